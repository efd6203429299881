// Package suggest finds the closest known name to a mistyped one, for
// "did you mean" hints in configuration errors and API responses.
//
// Candidates are first filtered by Double Metaphone code overlap and ranked
// by Jaro-Winkler similarity. When nothing sounds alike, a stricter pure
// Jaro-Winkler pass is tried. Names are split into tokens on spaces,
// underscores and hyphens, so "remote_audoi" still lines up with
// "remote_audio".
package suggest

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// that shares a phonetic code with the input. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum score for a candidate that shares no
// phonetic code with the input. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher ranks candidate names against an input. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var defaultMatcher = New()

// Closest returns the candidate nearest to input using the default
// thresholds. ok is false when nothing is close enough or when input
// matches a candidate exactly (ignoring case), since there is nothing to
// suggest then.
func Closest(input string, candidates []string) (string, bool) {
	best, _, ok := defaultMatcher.Match(input, candidates)
	if !ok || strings.EqualFold(best, strings.TrimSpace(input)) {
		return "", false
	}
	return best, true
}

// Match returns the candidate most similar to input and its Jaro-Winkler
// score. A candidate with a phonetic match always wins over one without.
// When matched is false, best is empty and score is 0.
func (m *Matcher) Match(input string, candidates []string) (best string, score float64, matched bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" || len(candidates) == 0 {
		return "", 0, false
	}
	inTokens := tokens(in)
	inCodes := codes(inTokens)

	var (
		bestScore    float64
		bestPhonetic bool
	)
	for _, c := range candidates {
		cl := strings.ToLower(strings.TrimSpace(c))
		if cl == "" {
			continue
		}
		cTokens := tokens(cl)
		s := similarity(inTokens, cTokens, in, cl)

		if overlap(inCodes, codes(cTokens)) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = c, s, true
			}
			continue
		}
		if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			best, bestScore = c, s
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
}

// codes returns every non-empty Double Metaphone code of the tokens.
func codes(toks []string) map[string]struct{} {
	out := make(map[string]struct{}, len(toks)*2)
	for _, t := range toks {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score of the full strings, the
// strings with separators removed, and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
