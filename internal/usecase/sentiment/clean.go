package sentiment

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxRunes ограничивает длину текста, отдаваемого классификатору.
const DefaultMaxRunes = 512

var (
	breakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)
)

// CleanText убирает HTML, шумовые символы и лишние пробелы, обрезает до maxRunes.
func CleanText(text string, maxRunes int) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = breakRe.ReplaceAllString(text, " ")
	text = tagRe.ReplaceAllString(text, "")
	text = strings.Map(func(r rune) rune {
		if keepRune(r) {
			return r
		}
		return ' '
	}, text)
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes > 0 {
		runes := []rune(text)
		if len(runes) > maxRunes {
			text = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return text
}

func keepRune(r rune) bool {
	switch {
	case unicode.IsSpace(r):
		return true
	case unicode.Is(unicode.Hangul, r):
		return true
	case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
		return true
	}
	switch r {
	case '.', ',', '!', '?', '(', ')':
		return true
	}
	return false
}
