// Package instruction turns raw provider maneuver text into short rider-facing
// instructions in Brazilian Portuguese (canonical) or American English.
package instruction

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// ErrUnsupportedLanguage is returned for target languages other than pt-BR and en-US.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Supported language tags.
const (
	// LangPortuguese is the canonical simplified form.
	LangPortuguese = "pt-BR"
	// LangEnglish is derived from the canonical form by reverse mapping.
	LangEnglish = "en-US"
)

var (
	basePortuguese, _ = language.Portuguese.Base()
	baseEnglish, _    = language.English.Base()
)

// ParseLanguage resolves a BCP 47 tag to one of the supported languages.
// Matching is on the base language, so "pt", "pt-br" and "PT-BR" all resolve to pt-BR.
func ParseLanguage(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
	}

	base, _ := t.Base()
	switch base {
	case basePortuguese:
		return LangPortuguese, nil
	case baseEnglish:
		return LangEnglish, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
	}
}
