package scanning

import (
	"context"
	"fmt"
)

// Document is an uploaded receipt image or PDF
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Candidate is the extractor's unvalidated guess at the receipt fields.
// An empty string means the field was absent.
type Candidate struct {
	Vendor string
	Date   string
	Total  string
}

// Fields is a normalized receipt. Every field is either valid or empty:
// Date is YYYY-MM-DD and Total is a decimal with two fraction digits.
type Fields struct {
	Vendor string `json:"vendor"`
	Date   string `json:"date"`
	Total  string `json:"total"`
}

// Recognizer turns a document into raw text
type Recognizer interface {
	// Recognize runs OCR over the whole document. It fails with a
	// *RecognitionError when the engine cannot process the document.
	Recognize(ctx context.Context, doc Document) (string, error)
}

// Completer sends a system instruction plus user text to a generative model
// and returns the model's reply. Implementations must request deterministic
// decoding.
type Completer interface {
	Complete(ctx context.Context, instruction, text string) (string, error)
}

// RecognitionError is returned when OCR fails for a document
type RecognitionError struct {
	Filename string
	Err      error
}

func (e *RecognitionError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("recognizing text: %v", e.Err)
	}
	return fmt.Sprintf("recognizing text in %s: %v", e.Filename, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// ExtractionError is returned when the completion service cannot be reached
// or rejects the request. Malformed replies are never an ExtractionError.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting fields: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
