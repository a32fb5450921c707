package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// transcribePrompt asks a vision model to behave like a plain OCR engine
const transcribePrompt = `Transcribe all text visible in this receipt or invoice exactly as printed, in natural reading order, one printed line per output line.
Do not summarize, translate, correct, or explain anything.
Do not use markdown.
If there is no readable text, return an empty response.`

// Gemini implements both Recognizer and Completer using Google Gemini
type Gemini struct {
	client            *genai.Client
	model             *genai.GenerativeModel
	recognizeTimeout  time.Duration
	completionTimeout time.Duration
}

// NewGemini creates a new Gemini client. Recognize and Complete are bounded
// by their own timeouts; zero means 30 seconds.
func NewGemini(apiKey string, modelName string, recognizeTimeout, completionTimeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	if recognizeTimeout <= 0 {
		recognizeTimeout = 30 * time.Second
	}
	if completionTimeout <= 0 {
		completionTimeout = 30 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:            client,
		model:             model,
		recognizeTimeout:  recognizeTimeout,
		completionTimeout: completionTimeout,
	}, nil
}

// Recognize transcribes the document's text with Gemini vision
func (g *Gemini) Recognize(ctx context.Context, doc Document) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.recognizeTimeout)
	defer cancel()

	imageData, mimeType, _, err := prepareImageData(doc.Data, doc.ContentType)
	if err != nil {
		return "", &RecognitionError{Filename: doc.Filename, Err: err}
	}

	// genai.ImageData wants the format suffix ("png"), not the MIME type
	format := strings.TrimPrefix(mimeType, "image/")
	if format == "jpg" {
		format = "jpeg"
	}

	text, err := g.generate(ctx, g.model,
		genai.ImageData(format, imageData),
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return "", &RecognitionError{Filename: doc.Filename, Err: err}
	}
	return text, nil
}

// Complete sends the instruction as a system instruction and the text as
// the user turn
func (g *Gemini) Complete(ctx context.Context, instruction, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.completionTimeout)
	defer cancel()

	// Copy so concurrent calls never share a SystemInstruction
	model := *g.model
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}

	return g.generate(ctx, &model, genai.Text(text))
}

func (g *Gemini) generate(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
