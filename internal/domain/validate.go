package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength bounds identifiers in bytes.
const MaxIDLength = 128

// ValidateID rejects identifiers that are empty, too long, not UTF-8, contain
// non-printable runes, or contain '/' (ids are used as path segments).
func ValidateID(id string) error {
	switch {
	case id == "":
		return BadRequestf("id must not be empty")
	case len(id) > MaxIDLength:
		return BadRequestf("id longer than %d bytes", MaxIDLength)
	case !utf8.ValidString(id):
		return BadRequestf("id is not valid UTF-8")
	case strings.ContainsRune(id, '/'):
		return BadRequestf("id must not contain '/'")
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return BadRequestf("id contains non-printable character %U", r)
		}
	}
	return nil
}
