package protocol

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var tagPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Encode renders m as nested elements wrapped in a root tag.
func Encode(m *Map, root string) (string, error) {
	var b strings.Builder
	if err := encodeElement(&b, root, m); err != nil {
		return "", err
	}
	return b.String(), nil
}

// EncodeInner renders m wrapped in the synthetic root and strips the wrapper
// again, for embedding in a larger document.
func EncodeInner(m *Map) (string, error) {
	markup, err := Encode(m, RootTag)
	if err != nil {
		return "", err
	}
	return StripRoot(markup, RootTag), nil
}

func encodeElement(b *strings.Builder, tag string, value any) error {
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}

	b.WriteString("<" + tag + ">")

	switch v := value.(type) {
	case *Map:
		if v != nil {
			for pair := v.Oldest(); pair != nil; pair = pair.Next() {
				if err := encodeElement(b, pair.Key, pair.Value); err != nil {
					return err
				}
			}
		}
	case nil:
	case string:
		b.WriteString(EscapeText(v))
	default:
		b.WriteString(EscapeText(fmt.Sprint(v)))
	}

	b.WriteString("</" + tag + ">")
	return nil
}

// EscapeText escapes s for use as element text. Characters XML does not
// allow, such as terminal escapes, NUL and invalid UTF-8, become U+FFFD.
func EscapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '&':
			b.WriteString("&amp;")
		case r == '<':
			b.WriteString("&lt;")
		case r == '>':
			b.WriteString("&gt;")
		case r == '\r':
			b.WriteString("&#xD;")
		case !isXMLChar(r):
			b.WriteRune(utf8.RuneError)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sanitizeText replaces the characters EscapeText cannot represent.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return utf8.RuneError
	}, s)
}

// isXMLChar reports whether r is in the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}

// StripRoot removes a wrapping root element from markup. Markup without the
// wrapper is returned trimmed.
func StripRoot(markup, root string) string {
	markup = strings.TrimSpace(markup)
	open, close := "<"+root+">", "</"+root+">"

	start := strings.Index(markup, open)
	end := strings.LastIndex(markup, close)
	if start < 0 || end < start+len(open) {
		return markup
	}

	return strings.TrimSpace(markup[start+len(open) : end])
}
