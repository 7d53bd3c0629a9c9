package transcription

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultStopPhrase ends the first full utterance of the announcement line.
const DefaultStopPhrase = "you must report to drug screen"

// Substitution rewrites one known mis-transcription. From and To are lower case.
type Substitution struct {
	From string
	To   string
}

// DefaultSubstitutions is applied in order, whole words only.
var DefaultSubstitutions = []Substitution{
	{From: "color gold", To: "color code"},
	{From: "color coat", To: "color code"},
	{From: "colour", To: "color"},
	{From: "lilac mall", To: "lilac, mauve"},
	{From: "rolls", To: "rose"},
	{From: "roses", To: "rose"},
	{From: "grey", To: "gray"},
	{From: "drug screening", To: "drug screen"},
}

// Normalized is the result of cleaning one raw transcript.
type Normalized struct {
	// Text is the display copy with sentence-initial capitals.
	Text string
	// Match is the lower-case copy used for color extraction.
	Match string
	// Truncated reports whether the stop phrase was found.
	Truncated bool
}

type compiledSub struct {
	re *regexp.Regexp
	to string
}

// Normalizer is deterministic for a given substitution table and stop phrase.
type Normalizer struct {
	subs       []compiledSub
	stopPhrase string
}

func NewNormalizer(subs []Substitution, stopPhrase string) *Normalizer {
	n := &Normalizer{stopPhrase: collapse(strings.ToLower(stopPhrase))}
	for _, s := range subs {
		from := collapse(strings.ToLower(s.From))
		if from == "" {
			continue
		}
		n.subs = append(n.subs, compiledSub{
			re: regexp.MustCompile(`\b` + regexp.QuoteMeta(from) + `\b`),
			to: strings.ToLower(s.To),
		})
	}
	return n
}

// Default returns a normalizer with the built-in table and stop phrase.
func Default() *Normalizer {
	return NewNormalizer(DefaultSubstitutions, DefaultStopPhrase)
}

func (n *Normalizer) Normalize(raw string) Normalized {
	text := collapse(strings.ToLower(raw))

	for _, s := range n.subs {
		text = s.re.ReplaceAllString(text, s.to)
	}

	truncated := false
	if n.stopPhrase != "" {
		if idx := strings.Index(text, n.stopPhrase); idx >= 0 {
			text = text[:idx+len(n.stopPhrase)]
			truncated = true
		}
	}

	text = dedupeSentences(text)
	return Normalized{
		Text:      capitalizeSentences(text),
		Match:     text,
		Truncated: truncated,
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitSentences keeps the terminal punctuation with its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] != ' ' {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func dedupeSentences(text string) string {
	seen := map[string]bool{}
	var kept []string
	for _, s := range splitSentences(text) {
		if !strings.ContainsAny(s[len(s)-1:], ".!?") {
			s += "."
		}
		key := strings.ToLower(strings.TrimRight(s, ".!? "))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, s)
	}
	return strings.Join(kept, " ")
}

func capitalizeSentences(text string) string {
	runes := []rune(text)
	capNext := true
	for i, r := range runes {
		switch {
		case capNext && unicode.IsLetter(r):
			runes[i] = unicode.ToUpper(r)
			capNext = false
		case r == '.' || r == '!' || r == '?':
			capNext = true
		case capNext && unicode.IsDigit(r):
			capNext = false
		}
	}
	return string(runes)
}
