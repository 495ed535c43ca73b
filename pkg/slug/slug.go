// Package slug turns titles into URL-safe identifiers and resolves collisions
// against a storage probe.
package slug

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
)

const (
	DefaultMaxLength   = 80
	DefaultMaxAttempts = 1000

	// fallbackReserve leaves room for "-" plus a base36 UnixNano suffix.
	fallbackReserve = 14

	emptyFallback = "untitled"
)

// transliterations maps letters that do not decompose to ASCII. Marks are
// stripped before lookup, so only base letters are listed.
var transliterations = map[rune]string{
	// Latin
	'ß': "ss", 'æ': "ae", 'ø': "o", 'đ': "d", 'ð': "d", 'ł': "l", 'þ': "th",
	'œ': "oe", 'ı': "i", 'ħ': "h", 'ŋ': "ng",
	// apostrophes are dropped rather than turned into separators
	'\'': "", '’': "", '‘': "", 'ʼ': "",
	// Arabic
	'ا': "a", 'ب': "b", 'ت': "t", 'ث': "th", 'ج': "j", 'ح': "h", 'خ': "kh",
	'د': "d", 'ذ': "dh", 'ر': "r", 'ز': "z", 'س': "s", 'ش': "sh", 'ص': "s",
	'ض': "d", 'ط': "t", 'ظ': "z", 'ع': "", 'غ': "gh", 'ف': "f", 'ق': "q",
	'ك': "k", 'ل': "l", 'م': "m", 'ن': "n", 'ه': "h", 'و': "w", 'ي': "y",
	'ى': "a", 'ة': "h", 'ء': "", 'ـ': "",
	// Cyrillic
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o",
	'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "kh",
	'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "",
	'э': "e", 'ю': "yu", 'я': "ya", 'є': "ye", 'і': "i", 'ї': "i",
	// Greek
	'α': "a", 'β': "b", 'γ': "g", 'δ': "d", 'ε': "e", 'ζ': "z", 'η': "i",
	'θ': "th", 'ι': "i", 'κ': "k", 'λ': "l", 'μ': "m", 'ν': "n", 'ξ': "x",
	'ο': "o", 'π': "p", 'ρ': "r", 'σ': "s", 'ς': "s", 'τ': "t", 'υ': "y",
	'φ': "f", 'χ': "ch", 'ψ': "ps", 'ω': "o",
}

// Slugify lowercases text, transliterates known non-Latin letters, strips
// diacritics and joins the remaining alphanumeric runs with single hyphens.
func Slugify(text string) string {
	// transform.Chain keeps state, so build one per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	write := func(s string) {
		if pendingHyphen && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingHyphen = false
		b.WriteString(s)
	}

	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			write(string(r))
		default:
			if t, ok := transliterations[r]; ok {
				if t != "" {
					write(t)
				}
				continue
			}
			pendingHyphen = true
		}
	}

	return b.String()
}

// ExistsFunc reports whether a slug is already taken.
type ExistsFunc func(ctx context.Context, slug string) (bool, error)

// Generator produces unique slugs.
type Generator struct {
	maxLength   int
	maxAttempts int
	now         func() time.Time
}

// NewGenerator creates a Generator. Non-positive values fall back to defaults.
func NewGenerator(maxLength, maxAttempts int) *Generator {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{maxLength: maxLength, maxAttempts: maxAttempts, now: time.Now}
}

// Generate returns a slug for text that exists reports as free. Collisions get
// numeric suffixes; once maxAttempts is exhausted a timestamp suffix is used.
// Only probe failures are returned as errors.
func (g *Generator) Generate(ctx context.Context, text string, exists ExistsFunc) (string, error) {
	base := g.base(text)

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + "-" + strconv.Itoa(attempt)
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}

	candidate := base + "-" + strconv.FormatInt(g.now().UnixNano(), 36)
	taken, err := exists(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("check slug %q: %w", candidate, err)
	}
	if taken {
		return "", fmt.Errorf("slug %q: %w", candidate, apperrors.ErrConflict)
	}
	return candidate, nil
}

func (g *Generator) base(text string) string {
	base := Slugify(text)
	if base == "" {
		base = emptyFallback
	}

	limit := g.maxLength - fallbackReserve
	if limit < 1 {
		limit = 1
	}
	if len(base) > limit {
		base = strings.TrimRight(base[:limit], "-")
	}
	if base == "" {
		base = emptyFallback[:min(limit, len(emptyFallback))]
	}
	return base
}
