package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/receipt-parser/internal/scanning"
)

// FieldExtractor derives candidate fields from recognized text
type FieldExtractor interface {
	Extract(ctx context.Context, text string) (scanning.Candidate, error)
}

// Pipeline turns an uploaded receipt into normalized fields:
// stage the upload, recognize text, extract candidates, normalize.
type Pipeline struct {
	staging     Storage
	recognizer  scanning.Recognizer
	extractor   FieldExtractor
	normalizer  *scanning.Normalizer
	idGenerator IDGenerator
}

// NewPipeline creates a Pipeline that stages uploads in staging
func NewPipeline(staging Storage, recognizer scanning.Recognizer, extractor FieldExtractor) *Pipeline {
	return NewPipelineWithDeps(staging, recognizer, extractor, &uuidGenerator{})
}

// NewPipelineWithDeps creates a Pipeline with a custom ID generator for testing
func NewPipelineWithDeps(staging Storage, recognizer scanning.Recognizer, extractor FieldExtractor, idGen IDGenerator) *Pipeline {
	return &Pipeline{
		staging:     staging,
		recognizer:  recognizer,
		extractor:   extractor,
		normalizer:  scanning.NewNormalizer(),
		idGenerator: idGen,
	}
}

// Process runs the whole pipeline for one document. The only failure is a
// *scanning.RecognitionError, or the context's error when the caller gives
// up. The staged copy of the upload is deleted on every path.
func (p *Pipeline) Process(ctx context.Context, doc scanning.Document) (scanning.Fields, error) {
	stagedName := fmt.Sprintf("%s-%s", p.idGenerator.Generate(), sanitizeFilename(doc.Filename))
	staged, err := p.staging.Save(stagedName, doc.Data)
	if err != nil {
		return scanning.Fields{}, &scanning.RecognitionError{
			Filename: doc.Filename,
			Err:      fmt.Errorf("staging upload: %w", err),
		}
	}
	defer func() {
		if err := p.staging.Delete(staged); err != nil {
			slog.Warn("Failed to delete staged upload", "path", staged, "error", err)
		}
	}()

	// Recognition works from the staged copy, not the request buffer
	data, err := p.staging.Get(staged)
	if err != nil {
		return scanning.Fields{}, &scanning.RecognitionError{
			Filename: doc.Filename,
			Err:      fmt.Errorf("reading staged upload: %w", err),
		}
	}
	doc.Data = data

	text, err := p.recognizer.Recognize(ctx, doc)
	if err != nil {
		var recognitionErr *scanning.RecognitionError
		if !errors.As(err, &recognitionErr) {
			err = &scanning.RecognitionError{Filename: doc.Filename, Err: err}
		}
		slog.Error("Failed to recognize receipt text",
			"filename", doc.Filename,
			"content_type", doc.ContentType,
			"file_size", len(doc.Data),
			"error", err,
		)
		return scanning.Fields{}, err
	}
	if err := ctx.Err(); err != nil {
		return scanning.Fields{}, fmt.Errorf("parsing receipt: %w", err)
	}

	candidate, err := p.extractor.Extract(ctx, text)
	if err != nil {
		// The normalizer can still recover date and total from raw text
		slog.Warn("Field extraction failed, falling back to OCR text",
			"filename", doc.Filename,
			"error", err,
		)
		candidate = scanning.Candidate{}
	}
	if err := ctx.Err(); err != nil {
		return scanning.Fields{}, fmt.Errorf("parsing receipt: %w", err)
	}

	fields := p.normalizer.Normalize(candidate, text)
	slog.Info("Parsed receipt",
		"filename", doc.Filename,
		"text_length", len(text),
		"vendor", fields.Vendor,
		"date", fields.Date,
		"total", fields.Total,
	)
	return fields, nil
}
