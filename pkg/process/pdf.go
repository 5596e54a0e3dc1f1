package process

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/piratf/kampus-crawler/pkg/utils"
)

// PDFLimits bounds how much of a PDF is read. Zero means no limit.
type PDFLimits struct {
	MaxPages int
	MaxChars int
}

// PDFText extracts the text layer of a PDF, one block per page, reading at
// most lim.MaxPages pages and returning at most lim.MaxChars characters.
// Scanned PDFs yield "" and no error.
func PDFText(ctx context.Context, data []byte, lim PDFLimits) (text string, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: PDF: %v", utils.ErrParsing, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: PDF: %w", utils.ErrParsing, err)
	}
	pages := reader.NumPage()
	if lim.MaxPages > 0 {
		pages = min(pages, lim.MaxPages)
	}

	var b strings.Builder
	chars := 0
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		content, err := p.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("%w: PDF page %d: %w", utils.ErrParsing, i, err)
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(content)
		chars += utf8.RuneCountInString(content)
		if lim.MaxChars > 0 && chars >= lim.MaxChars {
			break
		}
	}
	if lim.MaxChars > 0 {
		return utils.Truncate(b.String(), lim.MaxChars), nil
	}
	return b.String(), nil
}
