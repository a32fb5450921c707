package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements Recognizer using a local Tesseract installation
type Tesseract struct {
	language string
	timeout  time.Duration
}

// NewTesseract creates a Tesseract recognizer. An empty language means
// English; a zero timeout means 30 seconds.
func NewTesseract(language string, timeout time.Duration) *Tesseract {
	if language == "" {
		language = "eng"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Tesseract{
		language: language,
		timeout:  timeout,
	}
}

type ocrResult struct {
	text string
	err  error
}

// Recognize runs Tesseract over the whole document
func (t *Tesseract) Recognize(ctx context.Context, doc Document) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	imageData, mimeType, converted, err := prepareImageData(doc.Data, doc.ContentType)
	if err != nil {
		return "", &RecognitionError{Filename: doc.Filename, Err: err}
	}
	slog.Debug("Prepared image for OCR",
		"filename", doc.Filename,
		"mime_type", mimeType,
		"converted", converted,
		"size", len(imageData),
	)

	// gosseract has no cancellation hook, so the call runs on its own
	// goroutine with its own client and is abandoned on timeout.
	done := make(chan ocrResult, 1)
	go func() {
		text, err := t.run(imageData)
		done <- ocrResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", &RecognitionError{Filename: doc.Filename, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return "", &RecognitionError{Filename: doc.Filename, Err: res.err}
		}
		return res.text, nil
	}
}

func (t *Tesseract) run(imageData []byte) (text string, err error) {
	// The cgo layer panics on some corrupt inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tesseract panic: %v", r)
		}
	}()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(imageData); err != nil {
		return "", fmt.Errorf("loading image: %w", err)
	}

	text, err = client.Text()
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w", err)
	}
	return text, nil
}
