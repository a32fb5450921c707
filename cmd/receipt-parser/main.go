package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/receipt-parser/internal/receipt"
	"github.com/zombor/receipt-parser/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// staleStagingAge is how old a staged upload must be before startup removes it
const staleStagingAge = time.Hour

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; anything else is worth knowing about
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("receipt-parser")
	var (
		port              = fs.IntLong("port", 5001, "HTTP server port")
		dbPath            = fs.StringLong("db", "receipt-parser.db", "Database file path")
		storagePath       = fs.StringLong("storage", "./receipts", "Directory for submitted receipt files")
		stagingPath       = fs.StringLong("staging", "./uploads", "Directory for uploads while they are parsed")
		recognizerType    = fs.StringLong("recognizer", "tesseract", "Text recognizer: 'tesseract' or 'gemini'")
		completerType     = fs.StringLong("completer", "openai", "Field extraction model: 'openai', 'ollama' or 'gemini'")
		ocrLanguage       = fs.StringLong("ocr-lang", "eng", "Tesseract language")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		openaiKey         = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel       = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openaiBaseURL     = fs.StringLong("openai-base-url", "", "OpenAI-compatible API base URL (optional)")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llama3.1", "Ollama model name")
		recognizeTimeout  = fs.DurationLong("recognition-timeout", 30*time.Second, "Maximum time for text recognition")
		extractionTimeout = fs.DurationLong("extraction-timeout", 30*time.Second, "Maximum time for field extraction")
		maxUpload         = fs.IntLong("max-upload", receipt.DefaultMaxUploadSize, "Maximum receipt upload size in bytes")
		authUser          = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		debug             = fs.BoolLong("debug", "Enable debug logging")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_PARSER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Gemini can serve as recognizer and completer; share one client
	var gemini *scanning.Gemini
	geminiClient := func() *scanning.Gemini {
		if gemini != nil {
			return gemini
		}
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini...", "model", *geminiModel)
		gemini, err = scanning.NewGemini(apiKey, *geminiModel, *recognizeTimeout, *extractionTimeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		return gemini
	}

	// Initialize recognizer based on type
	var recognizer scanning.Recognizer
	switch *recognizerType {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "language", *ocrLanguage)
		recognizer = scanning.NewTesseract(*ocrLanguage, *recognizeTimeout)
	case "gemini":
		recognizer = geminiClient()
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "tesseract or gemini")
		os.Exit(1)
	}

	// Initialize completer based on type
	var completer scanning.Completer
	switch *completerType {
	case "openai":
		apiKey := *openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI completer...", "model", *openaiModel)
		completer, err = scanning.NewOpenAI(apiKey, *openaiModel, *openaiBaseURL, *extractionTimeout)
		if err != nil {
			slog.Error("Failed to initialize OpenAI", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama completer...", "url", *ollamaURL, "model", *ollamaModel)
		completer, err = scanning.NewOllama(*ollamaURL, *ollamaModel, *extractionTimeout)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "gemini":
		completer = geminiClient()
	default:
		slog.Error("Invalid completer type", "type", *completerType, "valid", "openai, ollama or gemini")
		os.Exit(1)
	}

	if gemini != nil {
		defer gemini.Close()
	}

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	staging, err := receipt.NewLocalStorage(*stagingPath)
	if err != nil {
		slog.Error("Failed to initialize staging directory", "error", err)
		os.Exit(1)
	}
	if removed, err := staging.Sweep(staleStagingAge); err != nil {
		slog.Warn("Failed to clean staging directory", "error", err)
	} else if removed > 0 {
		slog.Info("Removed stale staged uploads", "count", removed)
	}

	// Initialize service
	pipeline := receipt.NewPipeline(staging, recognizer, scanning.NewExtractor(completer))
	receiptService := receipt.NewService(db, pipeline, store)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth, int64(*maxUpload))

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), max(*recognizeTimeout, *extractionTimeout)+5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Failed to shut down cleanly", "error", err)
	}
}
