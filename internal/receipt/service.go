package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-parser/internal/scanning"
)

// IDGenerator generates unique IDs for expenses and staged files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ValidationError reports a submission the caller must fix
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Service handles receipt parsing and expense submission
type Service struct {
	db          DB
	pipeline    *Pipeline
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, pipeline *Pipeline, storage Storage) *Service {
	return &Service{
		db:          db,
		pipeline:    pipeline,
		storage:     storage,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, pipeline *Pipeline, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		pipeline:    pipeline,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ParseReceipt extracts vendor, date and total from an uploaded receipt
// without storing anything
func (s *Service) ParseReceipt(ctx context.Context, doc scanning.Document) (scanning.Fields, error) {
	return s.pipeline.Process(ctx, doc)
}

// SubmitExpense stores the receipt file and records a pending expense
func (s *Service) SubmitExpense(sub Submission, doc scanning.Document) (*Expense, error) {
	amount, err := validateSubmission(sub)
	if err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 {
		return nil, &ValidationError{Message: "Receipt file is required."}
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(doc.Filename)), doc.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	expense := &Expense{
		ID:          id,
		Email:       strings.TrimSpace(sub.Email),
		ExpenseType: strings.TrimSpace(sub.ExpenseType),
		Vendor:      strings.TrimSpace(sub.Vendor),
		Date:        strings.TrimSpace(sub.Date),
		Amount:      amount,
		Notes:       sub.Notes,
		Status:      StatusPending,
		ReceiptFile: savedPath,
		ContentType: doc.ContentType,
		SubmittedAt: now,
	}

	if err := s.db.SaveExpense(expense); err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving expense to database: %w", err)
	}

	return expense, nil
}

// validateSubmission checks required fields and returns the total in cents
func validateSubmission(sub Submission) (int64, error) {
	if strings.TrimSpace(sub.Email) == "" ||
		strings.TrimSpace(sub.ExpenseType) == "" ||
		strings.TrimSpace(sub.Vendor) == "" ||
		strings.TrimSpace(sub.Date) == "" ||
		strings.TrimSpace(sub.Total) == "" {
		return 0, &ValidationError{Message: "Missing required expense information (Type, Email, Vendor, Date, Total)."}
	}

	if _, err := time.Parse("2006-01-02", strings.TrimSpace(sub.Date)); err != nil {
		return 0, &ValidationError{Message: "Date must be in YYYY-MM-DD format."}
	}

	cleaned := strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(sub.Total))
	total, err := decimal.NewFromString(cleaned)
	if err != nil || total.IsNegative() {
		return 0, &ValidationError{Message: "Total must be a non-negative amount."}
	}

	return total.Shift(2).Round(0).IntPart(), nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(id string) (*Expense, error) {
	expense, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// ListExpenses returns all expenses
func (s *Service) ListExpenses() ([]*Expense, error) {
	expenses, err := s.db.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

// GetReceiptFile retrieves the stored receipt for an expense
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	expense, err := s.db.GetExpense(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting expense: %w", err)
	}

	data, err := s.storage.Get(expense.ReceiptFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, expense.ContentType, nil
}
