package translate

import (
	"github.com/abadojack/whatlanggo"
)

// Detection is the outcome of source-language detection.
type Detection struct {
	Lang       string // ISO 639-1 code, "" when undetermined
	Confidence float64
}

// Detect identifies the language of text with a confidence score. Callers
// treat a confidence below their threshold as undetermined and skip
// translation rather than guess.
func Detect(text string) Detection {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return Detection{}
	}
	return Detection{Lang: code, Confidence: info.Confidence}
}
