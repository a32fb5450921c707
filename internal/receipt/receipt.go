package receipt

import "time"

// Status is the review state of a submitted expense
type Status string

// StatusPending is the only state this service assigns; reviewers move
// expenses on from there
const StatusPending Status = "Pending"

// Expense is a submitted expense claim with its stored receipt
type Expense struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	ExpenseType string    `json:"expense_type"`
	Vendor      string    `json:"vendor"`
	Date        string    `json:"date"`   // YYYY-MM-DD
	Amount      int64     `json:"amount"` // Amount in cents
	Notes       string    `json:"notes,omitempty"`
	Status      Status    `json:"status"`
	ReceiptFile string    `json:"receipt_file"`
	ContentType string    `json:"content_type"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submission is what an employee sends to claim an expense. Vendor, Date
// and Total usually come from a parsed receipt the employee has reviewed.
type Submission struct {
	Email       string
	ExpenseType string
	Vendor      string
	Date        string
	Total       string
	Notes       string
}
