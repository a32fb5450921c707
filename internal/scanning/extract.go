package scanning

import (
	"context"
	"log/slog"
	"strings"
)

// ExtractionInstruction is sent as the system instruction with every
// extraction request
const ExtractionInstruction = `You extract fields from raw OCR text of a receipt.
Respond with a single JSON object and nothing else: no markdown code fences, no prose before or after it.
The object must contain exactly these three keys:
  "vendor": string, the name of the merchant or store
  "date": string, the transaction date in YYYY-MM-DD format
  "total": string, the final total paid as a decimal with exactly two fraction digits and no currency symbol or thousands separators, e.g. "78.90"
If a field cannot be found in the text, use an empty string for it.`

// Extractor derives candidate fields from recognized text using a
// generative model
type Extractor struct {
	completer Completer
}

// NewExtractor creates an Extractor that sends requests through completer
func NewExtractor(completer Completer) *Extractor {
	return &Extractor{completer: completer}
}

// Extract asks the model for vendor, date and total. It only fails with an
// *ExtractionError when the completion service itself fails; an unreadable
// reply yields an empty Candidate.
func (e *Extractor) Extract(ctx context.Context, text string) (Candidate, error) {
	if strings.TrimSpace(text) == "" {
		slog.Warn("Skipping field extraction, no text was recognized")
		return Candidate{}, nil
	}

	reply, err := e.completer.Complete(ctx, ExtractionInstruction, text)
	if err != nil {
		return Candidate{}, &ExtractionError{Err: err}
	}

	candidate, err := parseReply(reply)
	if err != nil {
		slog.Warn("Could not parse extraction reply",
			"reply", reply,
			"error", err,
		)
		return Candidate{}, nil
	}

	if err := checkReply(reply); err != nil {
		slog.Info("Extraction reply does not match the requested format",
			"reply", reply,
			"error", err,
		)
	}

	return candidate, nil
}
