package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

var entityIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,127}$`)

// ShortSHA1 returns the first n hex characters of the SHA-1 of s.
func ShortSHA1(s string, n int) string {
	sum := sha1.Sum([]byte(s))
	h := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}

const entityNameMaxLen = 40

// EntityID derives the stable checkpoint identifier for an entity:
// slug(name) truncated to 40 chars, "_", first 8 hex chars of sha1(site).
func EntityID(name, siteURL string) string {
	h := ShortSHA1(strings.TrimSpace(siteURL), 8)
	part := ""
	if strings.TrimSpace(name) != "" {
		part = Slugify(name)
		if len(part) > entityNameMaxLen {
			part = part[:entityNameMaxLen]
		}
	}
	if part == "" || part == slugFallback {
		return "entity_" + h
	}
	return part + "_" + h
}

// ValidEntityID reports whether id has the shape EntityID produces, so it is
// safe as a file name or key on every platform.
func ValidEntityID(id string) bool {
	return entityIDRe.MatchString(id)
}
