package engine

import (
	"context"
	"errors"
	"sync"
)

// TextRecognizer performs local OCR on one encoded page image.
type TextRecognizer interface {
	Name() string
	Recognize(ctx context.Context, image []byte, langs []string) (string, error)
}

// ErrNoRecognizer is returned when local OCR is needed but none is registered.
var ErrNoRecognizer = errors.New("no local OCR recognizer registered")

var (
	recognizerMu      sync.RWMutex
	defaultRecognizer TextRecognizer
)

// SetDefaultRecognizer registers the recognizer used by engines that were not
// given one explicitly. OCR backends call it from init.
func SetDefaultRecognizer(r TextRecognizer) {
	recognizerMu.Lock()
	defer recognizerMu.Unlock()
	defaultRecognizer = r
}

// DefaultRecognizer returns the registered recognizer, or nil.
func DefaultRecognizer() TextRecognizer {
	recognizerMu.RLock()
	defer recognizerMu.RUnlock()
	return defaultRecognizer
}

// tesseractLangs maps engine language codes to Tesseract traineddata names.
var tesseractLangs = map[string][]string{
	"ch":          {"chi_sim", "eng"},
	"ch_server":   {"chi_sim", "eng"},
	"ch_lite":     {"chi_sim", "eng"},
	"chinese_cht": {"chi_tra", "eng"},
	"en":          {"eng"},
	"korean":      {"kor", "eng"},
	"japan":       {"jpn", "eng"},
	"latin":       {"lat", "eng"},
	"arabic":      {"ara"},
	"cyrillic":    {"rus", "eng"},
	"east_slavic": {"rus", "ukr", "bel"},
	"devanagari":  {"hin"},
	"ta":          {"tam"},
	"te":          {"tel"},
	"ka":          {"kan"},
}

// OCRLanguages returns the Tesseract languages for an engine language code.
func OCRLanguages(lang string) []string {
	if l, ok := tesseractLangs[lang]; ok {
		return l
	}
	return []string{"eng"}
}
