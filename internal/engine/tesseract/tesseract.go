// Package tesseract registers a gosseract-backed local OCR recognizer with the
// engine. Import it for side effects.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/QThans/MinerU-runpod/internal/engine"
)

func init() {
	engine.SetDefaultRecognizer(New(os.Getenv("TESSDATA_PREFIX")))
}

// Recognizer runs Tesseract through gosseract. Each call uses its own client
// so recognizers can be shared between goroutines.
type Recognizer struct {
	tessdata      string
	clientFactory func() *gosseract.Client
}

// New creates a recognizer. tessdata may be empty to use the system default.
func New(tessdata string) *Recognizer {
	return &Recognizer{tessdata: tessdata, clientFactory: gosseract.NewClient}
}

func (r *Recognizer) Name() string { return "tesseract" }

// Recognize returns the plain text found in image.
func (r *Recognizer) Recognize(ctx context.Context, image []byte, langs []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := r.clientFactory()
	defer c.Close()

	if r.tessdata != "" {
		if err := c.SetTessdataPrefix(r.tessdata); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
