package instruction

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

func newRule(pattern, replacement string) rule {
	return rule{pattern: regexp.MustCompile(`(?i)` + pattern), replacement: replacement}
}

const compass = `(?:north|south|east|west)(?:east|west)?`

// simplifyRules rewrite provider phrasing into the canonical pt-BR vocabulary.
// Order matters: roundabouts before generic exits, ramps before exits, compass
// phrasing before the generic continue rule. Each rule also accepts the en-US
// rendering of its own output so normalization is idempotent in both languages.
var simplifyRules = []rule{
	newRule(`\b(?:enter|at)\b.*?\broundabout\b.*?\btake\b.*?\b(?:1st|first)\b.*?\bexit\b`, "Na rotatória, pegue a primeira saída"),
	newRule(`\b(?:enter|at)\b.*?\broundabout\b.*?\btake\b.*?\b(?:2nd|second)\b.*?\bexit\b`, "Na rotatória, pegue a segunda saída"),
	newRule(`\b(?:enter|at)\b.*?\broundabout\b.*?\btake\b.*?\b(?:3rd|third)\b.*?\bexit\b`, "Na rotatória, pegue a terceira saída"),
	newRule(`\b(?:enter|at)\b.*?\broundabout\b.*?\btake\b.*?\b(?:4th|fourth)\b.*?\bexit\b`, "Na rotatória, pegue a quarta saída"),
	newRule(`\benter\b(?:\s+the)?\s+roundabout\b`, "Entre na rotatória"),

	newRule(`\b(?:make\s+a\s+)?u-?turn\b`, "Faça um retorno"),

	newRule(`\bhead\s+`+compass+`\b`, "Siga em frente"),
	newRule(`\bgo\s+`+compass+`\b`, "Siga em frente"),
	newRule(`\bcontinue\s+`+compass+`\b`, "Continue em frente"),

	newRule(`\bturn\s+sharp\s+left\b`, "Vire à esquerda"),
	newRule(`\bturn\s+sharp\s+right\b`, "Vire à direita"),
	newRule(`\bturn\s+slight(?:ly)?\s+left\b`, "Mantenha-se à esquerda"),
	newRule(`\bturn\s+slight(?:ly)?\s+right\b`, "Mantenha-se à direita"),
	newRule(`\bturn\s+left\b`, "Vire à esquerda"),
	newRule(`\bturn\s+right\b`, "Vire à direita"),

	newRule(`\bkeep\s+left\b`, "Mantenha-se à esquerda"),
	newRule(`\bkeep\s+right\b`, "Mantenha-se à direita"),

	newRule(`\bmerge\b`, "Continue em frente"),
	newRule(`\btake\b.*?\bramp\b`, "Siga pela saída"),
	newRule(`\btake\b.*?\bexit\b`, "Pegue a saída"),

	newRule(`\bgo\s+straight\b`, "Siga em frente"),
	newRule(`\bcontinue(?:\s+straight|\s+em\s+frente)?\b`, "Continue em frente"),

	newRule(`\b`+compass+`\b`, ""),
	newRule(`\btowards?\b`, "em direção a"),
}

// englishRules map canonical pt-BR phrases to en-US.
var englishRules = []rule{
	newRule(`Na rotatória, pegue a`, "At the roundabout, take the"),
	newRule(`primeira saída`, "first exit"),
	newRule(`segunda saída`, "second exit"),
	newRule(`terceira saída`, "third exit"),
	newRule(`quarta saída`, "fourth exit"),
	newRule(`Entre na rotatória`, "Enter the roundabout"),
	newRule(`Siga pela saída`, "Take the ramp"),
	newRule(`Pegue a saída`, "Take the exit"),
	newRule(`Siga em frente`, "Go straight"),
	newRule(`Continue em frente`, "Continue straight"),
	newRule(`Vire à esquerda`, "Turn left"),
	newRule(`Vire à direita`, "Turn right"),
	newRule(`Mantenha-se à esquerda`, "Keep left"),
	newRule(`Mantenha-se à direita`, "Keep right"),
	newRule(`Faça um retorno`, "Make a U-turn"),
	newRule(`em direção a`, "toward"),
}

var (
	whitespace   = regexp.MustCompile(`\s+`)
	uturnPattern = regexp.MustCompile(`(?i)\bu-?turn\b|\bturn\s+around\b|\bhead\s+back\b|\breturn\b|\bretorno\b`)
)

// Normalizer rewrites raw instructions. The zero value is ready to use and
// safe for concurrent use.
type Normalizer struct{}

// Normalize strips markup from raw, maps it onto the rider vocabulary and
// renders it in lang. It returns ErrUnsupportedLanguage for languages other
// than pt-BR and en-US.
func (n *Normalizer) Normalize(raw, lang string) (string, error) {
	target, err := ParseLanguage(lang)
	if err != nil {
		return "", err
	}

	text := Simplify(StripMarkup(raw))
	if target == LangEnglish {
		text = apply(englishRules, text)
		text = tidy(text)
	}
	return text, nil
}

// Normalize is a convenience wrapper around a zero Normalizer.
func Normalize(raw, lang string) (string, error) {
	return (&Normalizer{}).Normalize(raw, lang)
}

// Simplify maps plain text onto the canonical pt-BR vocabulary.
func Simplify(text string) string {
	return tidy(apply(simplifyRules, text))
}

func apply(rules []rule, text string) string {
	for _, r := range rules {
		text = r.pattern.ReplaceAllLiteralString(text, r.replacement)
	}
	return text
}

// tidy collapses whitespace and capitalizes the first letter.
func tidy(text string) string {
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if text == "" {
		return text
	}
	first, size := utf8.DecodeRuneInString(text)
	return string(unicode.ToUpper(first)) + text[size:]
}

// StripMarkup removes HTML tags and decodes entities. Tags are replaced with a
// space so adjacent blocks such as "Turn right<div>Destination</div>" do not
// run together.
func StripMarkup(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return raw
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}
