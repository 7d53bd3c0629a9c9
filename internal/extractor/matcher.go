// Package extractor finds announced color codes in normalized transcript text.
package extractor

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// FuzzyCutoff is the minimum similarity accepted in fuzzy mode.
const FuzzyCutoff = 0.72

// minFuzzyLen keeps short function words ("read", "tan") out of fuzzy matching.
const minFuzzyLen = 5

// Match is one vocabulary entry found in the text.
type Match struct {
	Color  string
	Offset int
	Fuzzy  bool
}

type entry struct {
	name  string
	words []string
}

type token struct {
	text   string
	offset int
}

// Matcher is a pure function of (text, vocabulary). Safe for concurrent use.
type Matcher struct {
	entries []entry
	fuzzy   bool
}

type Option func(*Matcher)

// WithFuzzy enables edit-distance tolerance for single-word colors.
func WithFuzzy() Option {
	return func(m *Matcher) { m.fuzzy = true }
}

func NewMatcher(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{}
	seen := map[string]bool{}
	for _, v := range vocabulary {
		name := strings.Join(strings.Fields(strings.ToLower(v)), " ")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		m.entries = append(m.entries, entry{name: name, words: strings.Fields(name)})
	}
	// longest entries first so "light blue" wins over "blue" at the same position
	sort.SliceStable(m.entries, func(i, j int) bool {
		return len(m.entries[i].words) > len(m.entries[j].words)
	})
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns de-duplicated vocabulary entries in order of first appearance.
func (m *Matcher) Match(text string) []Match {
	toks := tokenize(strings.ToLower(text))
	var out []Match
	seen := map[string]bool{}
	add := func(mt Match) {
		if seen[mt.Color] {
			return
		}
		seen[mt.Color] = true
		out = append(out, mt)
	}

	for i := 0; i < len(toks); {
		if e, ok := m.exactAt(toks, i); ok {
			add(Match{Color: e.name, Offset: toks[i].offset})
			i += len(e.words)
			continue
		}
		if m.fuzzy {
			if name, ok := m.closest(toks[i].text); ok {
				add(Match{Color: name, Offset: toks[i].offset, Fuzzy: true})
			}
		}
		i++
	}
	return out
}

// Colors is Match without offsets.
func (m *Matcher) Colors(text string) []string {
	matches := m.Match(text)
	out := make([]string, 0, len(matches))
	for _, mt := range matches {
		out = append(out, mt.Color)
	}
	return out
}

func (m *Matcher) exactAt(toks []token, i int) (entry, bool) {
	for _, e := range m.entries {
		if i+len(e.words) > len(toks) {
			continue
		}
		ok := true
		for k, w := range e.words {
			if toks[i+k].text != w {
				ok = false
				break
			}
		}
		if ok {
			return e, true
		}
	}
	return entry{}, false
}

// closest accepts at most one single-word entry for the token.
func (m *Matcher) closest(tok string) (string, bool) {
	n := utf8.RuneCountInString(tok)
	if n < minFuzzyLen {
		return "", false
	}
	best, bestScore := "", 0.0
	for _, e := range m.entries {
		if len(e.words) != 1 {
			continue
		}
		score := similarity(tok, e.name)
		if score > bestScore {
			best, bestScore = e.name, score
		}
	}
	if bestScore < FuzzyCutoff {
		return "", false
	}
	return best, true
}

func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// tokenize splits on anything that is not a letter, digit or in-word
// apostrophe. A possessive suffix is dropped, so "amber's" yields "amber".
func tokenize(s string) []token {
	var toks []token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			w := strings.TrimRight(s[start:end], "'’")
			w = strings.TrimSuffix(strings.TrimSuffix(w, "'s"), "’s")
			toks = append(toks, token{text: strings.Trim(w, "'’"), offset: start})
			start = -1
		}
	}
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(s))
	return toks
}
