package extractor

import "strings"

// Extraction is the color list pulled from one transcript.
type Extraction struct {
	Colors []string `json:"colors"`
	Fuzzy  bool     `json:"fuzzy"`
}

// Extract returns the announced colors upper-cased, in order of first appearance.
// An empty list is a valid result.
func (m *Matcher) Extract(text string) Extraction {
	ex := Extraction{Colors: []string{}}
	for _, mt := range m.Match(text) {
		ex.Colors = append(ex.Colors, strings.ToUpper(mt.Color))
		if mt.Fuzzy {
			ex.Fuzzy = true
		}
	}
	return ex
}
