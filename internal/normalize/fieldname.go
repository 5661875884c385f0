package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxFieldNameLen = 100

// CleanFieldName turns an upstream custom-field label into a stable column
// name: diacritics folded, emoji and stray symbols dropped, whitespace
// collapsed, purely numeric names prefixed with "Campo_", capped at 100 runes.
func CleanFieldName(raw string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '(' || r == ')' || r == '[' || r == ']' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	name := strings.Join(strings.Fields(b.String()), " ")
	if name == "" {
		return ""
	}
	if isNumericName(name) {
		name = "Campo_" + name
	}
	if r := []rune(name); len(r) > maxFieldNameLen {
		name = strings.TrimSpace(string(r[:maxFieldNameLen]))
	}
	return name
}

// CanonicalFieldName folds the many spellings of the driver, contact and
// plate fields into one column each.
func CanonicalFieldName(name string) string {
	u := strings.ToUpper(name)
	out := name
	if strings.Contains(u, "MOTORISTA") && !strings.Contains(u, "CPF") && !strings.Contains(u, "AJUDANTE") {
		out = "MOTORISTA"
	}
	if strings.Contains(u, "CONTATO") || (strings.Contains(u, "CELULAR") && strings.Contains(u, "MOTORISTA")) {
		out = "CONTATO MOTORISTA"
	}
	if strings.Contains(u, "PLACA") {
		out = "PLACA"
	}
	return out
}

func isNumericName(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9') && r != '-' && r != '.' {
			return false
		}
	}
	return true
}
