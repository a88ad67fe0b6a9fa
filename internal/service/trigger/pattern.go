// Package trigger detects start/stop trigger phrases in transcript text.
//
// Phrase grammars are pluggable: anything that can report the earliest
// occurrence of itself in a string satisfies Pattern, so phrase sets can be
// swapped or extended without touching the capture state machine.
package trigger

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match is a half-open byte range [Start, End) inside the searched text.
type Match struct {
	Start int
	End   int
}

// Pattern finds the earliest occurrence of a trigger in text.
// Text is expected to be normalized with Normalize.
type Pattern interface {
	Find(text string) (Match, bool)
}

// Normalize lower-cases text without changing its byte length, so offsets
// found in the normalized text index the original text as well.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteByte(text[i])
			i++
			continue
		}
		lr := unicode.ToLower(r)
		if utf8.RuneLen(lr) != size {
			lr = r
		}
		b.WriteRune(lr)
		i += size
	}
	return b.String()
}

// FindFrom runs p over text[from:] and returns offsets relative to text.
func FindFrom(p Pattern, text string, from int) (Match, bool) {
	if p == nil || from < 0 || from > len(text) {
		return Match{}, false
	}
	m, ok := p.Find(text[from:])
	if !ok {
		return Match{}, false
	}
	return Match{Start: m.Start + from, End: m.End + from}, true
}

// PhraseSet matches any of a flat list of exact substrings.
// The earliest match wins; on equal offsets list order decides.
type PhraseSet []string

// NewPhraseSet lower-cases and trims phrases, dropping empty ones.
func NewPhraseSet(phrases ...string) PhraseSet {
	set := make(PhraseSet, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(Normalize(p))
		if p != "" {
			set = append(set, p)
		}
	}
	return set
}

func (s PhraseSet) Find(text string) (Match, bool) {
	best := Match{Start: -1}
	for _, phrase := range s {
		idx := strings.Index(text, phrase)
		if idx < 0 {
			continue
		}
		if best.Start < 0 || idx < best.Start {
			best = Match{Start: idx, End: idx + len(phrase)}
		}
	}
	return best, best.Start >= 0
}

// WakeIntent requires a wake phrase and an intent phrase to both occur.
// The reported match is the wake phrase's.
type WakeIntent struct {
	Wake   PhraseSet
	Intent PhraseSet
}

func (w WakeIntent) Find(text string) (Match, bool) {
	wake, ok := w.Wake.Find(text)
	if !ok {
		return Match{}, false
	}
	if _, ok := w.Intent.Find(text); !ok {
		return Match{}, false
	}
	return wake, true
}

// Any matches the earliest of several patterns, preferring list order on ties.
type Any []Pattern

func (a Any) Find(text string) (Match, bool) {
	best := Match{Start: -1}
	for _, p := range a {
		m, ok := p.Find(text)
		if !ok {
			continue
		}
		if best.Start < 0 || m.Start < best.Start {
			best = m
		}
	}
	return best, best.Start >= 0
}

// Regex adapts a compiled regular expression to Pattern.
type Regex struct {
	re *regexp.Regexp
}

// NewRegex compiles expr case-insensitively.
func NewRegex(expr string) (Regex, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Regex{}, err
	}
	return Regex{re: re}, nil
}

func (r Regex) Find(text string) (Match, bool) {
	if r.re == nil {
		return Match{}, false
	}
	loc := r.re.FindStringIndex(text)
	if loc == nil {
		return Match{}, false
	}
	return Match{Start: loc[0], End: loc[1]}, true
}

// String returns the underlying expression.
func (r Regex) String() string {
	if r.re == nil {
		return ""
	}
	return r.re.String()
}

var tokenSeparator = regexp.MustCompile(`\s+`)

// NewMarker builds a fuzzy two-token marker such as "hey neuro", tolerating
// any run of whitespace or punctuation between the tokens ("hey, neuro",
// "hey-neuro", "heyneuro").
func NewMarker(first, second string) (Regex, error) {
	return NewRegex(`\b` + quoteWords(first) + `[\s\p{P}]*` + quoteWords(second) + `\b`)
}

// NewToken builds a bare whole-word pattern such as "over".
func NewToken(word string) (Regex, error) {
	return NewRegex(`\b` + quoteWords(word) + `\b`)
}

func quoteWords(s string) string {
	words := tokenSeparator.Split(strings.TrimSpace(s), -1)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}
