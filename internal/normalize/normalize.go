// Package normalize cleans raw extracted text before chunking.
//
// Raw text arrives from OCR pipelines, HTML converters and export APIs and
// carries artifacts that hurt both embedding quality and deduplication:
// inconsistent Unicode forms, control characters, ligatures, zero-width
// runes, broken hyphenation. Normalization is deterministic so that the
// same content always produces the same normalized text, which downstream
// fingerprinting depends on.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Sentinel errors for content quality failures. Callers classify documents
// failing these checks as low quality and continue the run.
var (
	// ErrContent indicates text failed quality or length checks.
	ErrContent = errors.New("content failed quality checks")

	// ErrTooShort indicates normalized content fell below the minimum length.
	ErrTooShort = fmt.Errorf("%w: too short", ErrContent)

	// ErrTooLong indicates normalized content exceeded the maximum length.
	ErrTooLong = fmt.Errorf("%w: too long", ErrContent)
)

const (
	// DefaultMinLength is the default minimum normalized content length.
	DefaultMinLength = 10

	// DefaultMaxLength is the default maximum normalized content length.
	DefaultMaxLength = 1_000_000
)

// Normalizer cleans raw extracted text. The zero value is not usable; use New.
type Normalizer struct {
	minLength int
	maxLength int
}

// New creates a Normalizer with the given length bounds. Zero values fall
// back to the defaults.
func New(minLength, maxLength int) *Normalizer {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Normalizer{minLength: minLength, maxLength: maxLength}
}

// ocrReplacements maps known OCR artifacts to their clean forms.
// Ligatures appear in PDF extractions; typographic quotes and dashes come
// from word processors and break hash stability across export paths.
var ocrReplacements = strings.NewReplacer(
	"ﬀ", "ff",
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"–", "-",
	"—", "-",
	" ", " ",
)

// Normalize cleans raw text and enforces the configured length bounds.
//
// Steps, in order:
//  1. Unicode NFC normalization
//  2. OCR artifact replacement (ligatures, typographic punctuation)
//  3. Zero-width and soft-hyphen removal
//  4. Hyphenated line-break repair ("docu-\nment" -> "document")
//  5. Control character stripping (newline and tab survive)
//  6. Whitespace collapse (runs of spaces/tabs to one space, 3+ newlines to 2)
//
// Returns ErrTooShort or ErrTooLong (both wrapping ErrContent) when the
// result falls outside the configured bounds. No side effects.
func (n *Normalizer) Normalize(raw string) (string, error) {
	text := norm.NFC.String(raw)
	text = ocrReplacements.Replace(text)
	text = stripInvisible(text)
	text = repairHyphenation(text)
	text = stripControl(text)
	text = collapseWhitespace(text)
	text = strings.TrimSpace(text)

	// Bounds count characters, not bytes: multibyte text must not trip
	// the gates early.
	length := utf8.RuneCountInString(text)
	if length < n.minLength {
		return "", fmt.Errorf("%w: %d chars, minimum %d", ErrTooShort, length, n.minLength)
	}
	if length > n.maxLength {
		return "", fmt.Errorf("%w: %d chars, maximum %d", ErrTooLong, length, n.maxLength)
	}
	return text, nil
}

// stripInvisible removes zero-width runes, the BOM and soft hyphens.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, s)
}

// repairHyphenation joins words split across line breaks by OCR:
// "docu-\nment" becomes "document". Only a lowercase letter on both sides
// of the break is joined, so legitimate hyphenated compounds at line ends
// ("state-\nof-the-art") still join into their hyphenless form while
// list-style dashes survive.
func repairHyphenation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '-' && i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i-1]) {
			// Look past the hyphen for a newline followed by a lowercase letter.
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
				j++
			}
			if j < len(runes) && runes[j] == '\n' {
				k := j + 1
				for k < len(runes) && (runes[k] == ' ' || runes[k] == '\t') {
					k++
				}
				if k < len(runes) && unicode.IsLower(runes[k]) {
					i = k - 1 // skip hyphen and the break entirely
					continue
				}
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

// stripControl removes control characters except newline and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' {
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// collapseWhitespace collapses runs of spaces and tabs to a single space and
// runs of three or more newlines to a paragraph break. Trailing whitespace
// before a newline is dropped.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	newlines := 0
	spaces := 0
	for _, r := range s {
		switch r {
		case '\n':
			newlines++
			spaces = 0
		case ' ', '\t':
			spaces++
		default:
			if newlines > 0 {
				if newlines >= 2 {
					b.WriteString("\n\n")
				} else {
					b.WriteByte('\n')
				}
				newlines = 0
			} else if spaces > 0 {
				b.WriteByte(' ')
			}
			spaces = 0
			b.WriteRune(r)
		}
	}
	return b.String()
}
