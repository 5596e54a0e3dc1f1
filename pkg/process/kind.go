package process

import (
	"regexp"

	"github.com/piratf/kampus-crawler/pkg/models"
)

var (
	pdfExtRe   = regexp.MustCompile(`(?i)\.pdf($|[?#])`)
	imageExtRe = regexp.MustCompile(`(?i)\.(png|jpe?g|webp)($|[?#])`)
)

// SniffKind classifies a URL by its extension. Query strings and fragments are honored.
func SniffKind(u string) models.Kind {
	switch {
	case pdfExtRe.MatchString(u):
		return models.KindDocument
	case imageExtRe.MatchString(u):
		return models.KindImage
	}
	return models.KindPage
}
