package model

import "strings"

// Instrument is one tracked target: the provider symbol, the venue it
// trades on, a display title and the base name of its per-instrument files.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
}

// Key identifies the instrument in stores, channels and metrics.
func (i Instrument) Key() string {
	return strings.ToUpper(strings.TrimSpace(i.Symbol))
}

// Label is the human-readable name, falling back to the symbol.
func (i Instrument) Label() string {
	if i.Title != "" {
		return i.Title
	}
	return i.Symbol
}

// FileBase is the base name used for report files.
func (i Instrument) FileBase() string {
	if i.Filename != "" {
		return i.Filename
	}
	return i.Key()
}
