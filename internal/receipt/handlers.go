package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-parser/internal/scanning"
)

// receiptField is the multipart field carrying the receipt file
const receiptField = "receiptFile"

// allowedExtensions maps accepted upload extensions to their MIME types
var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".pdf":  "application/pdf",
	".heic": "image/heic",
	".heif": "image/heif",
}

// multipartOverhead leaves room for form fields and boundaries around the file
const multipartOverhead = 1 << 20

// uploadError is an upload problem the caller can fix
type uploadError struct {
	message string
}

func (e *uploadError) Error() string {
	return e.message
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeMessage writes a {"message": ...} JSON body
func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"message": message})
}

// readUpload parses the multipart form and returns the receipt document
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (scanning.Document, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return scanning.Document{}, &uploadError{message: "File is too large. Please compress or resize your image."}
		}
		return scanning.Document{}, &uploadError{message: "File upload error: " + err.Error()}
	}

	f, header, err := r.FormFile(receiptField)
	if err != nil {
		return scanning.Document{}, &uploadError{message: "No receipt file was uploaded."}
	}
	defer f.Close()

	if header.Size > s.maxUploadSize {
		return scanning.Document{}, &uploadError{message: "File is too large. Please compress or resize your image."}
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	extType, ok := allowedExtensions[ext]
	if !ok {
		return scanning.Document{}, &uploadError{message: "Invalid file type. Only JPG, PNG, PDF, HEIC allowed."}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return scanning.Document{}, err
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = extType
	}

	return scanning.Document{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// writeUploadError reports a readUpload failure
func writeUploadError(w http.ResponseWriter, err error) {
	var uploadErr *uploadError
	if errors.As(err, &uploadErr) {
		writeMessage(w, http.StatusBadRequest, uploadErr.message)
		return
	}
	slog.Error("Error reading upload", "error", err)
	writeMessage(w, http.StatusInternalServerError, "Error reading file. Please try again.")
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleParseReceipt runs the parsing pipeline on an uploaded receipt
func (s *Server) handleParseReceipt(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readUpload(w, r)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	fields, err := s.service.ParseReceipt(r.Context(), doc)
	if err != nil {
		var recognitionErr *scanning.RecognitionError
		if errors.As(err, &recognitionErr) {
			slog.Error("Error parsing receipt", "filename", doc.Filename, "error", err)
		} else {
			slog.Warn("Receipt parsing abandoned", "filename", doc.Filename, "error", err)
		}
		writeMessage(w, http.StatusInternalServerError, "Server error parsing receipt.")
		return
	}

	writeJSON(w, http.StatusOK, fields)
}

// handleSubmitExpense stores an expense claim with its receipt
func (s *Server) handleSubmitExpense(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readUpload(w, r)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	sub := Submission{
		Email:       r.FormValue("email"),
		ExpenseType: r.FormValue("expenseType"),
		Vendor:      r.FormValue("vendor"),
		Date:        r.FormValue("date"),
		Total:       r.FormValue("total"),
		Notes:       r.FormValue("notes"),
	}

	expense, err := s.service.SubmitExpense(sub, doc)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			writeMessage(w, http.StatusBadRequest, validationErr.Message)
			return
		}
		slog.Error("Error submitting expense", "filename", doc.Filename, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to save expense data due to server error.")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Expense submitted successfully.",
		"expense": expense,
	})
}

// handleListExpenses returns a list of all expenses
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses()
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to load expenses.")
		return
	}

	// Ensure we always return an array, not nil
	if expenses == nil {
		expenses = []*Expense{}
	}

	writeJSON(w, http.StatusOK, expenses)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.GetExpense(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Expense not found.")
			return
		}
		slog.Error("Error getting expense", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error fetching expense details.")
		return
	}

	writeJSON(w, http.StatusOK, expense)
}

// handleGetReceiptFile returns the stored receipt for an expense
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "File not found.")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}
