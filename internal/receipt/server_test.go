package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// multipartBody builds a form with an optional receipt file and text fields
func multipartBody(filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile(receiptField, filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

// readBody returns the response body and closes it
func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

var _ = Describe("Server", func() {
	var (
		db            *mockDB
		storage       *mockStorage
		staging       *mockStorage
		recognizer    *mockRecognizer
		completer     *mockCompleter
		auth          BasicAuth
		maxUploadSize int64
		server        *Server
		ghttpServer   *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		staging = newMockStorage()
		recognizer = newMockRecognizer()
		completer = newMockCompleter()
		auth = BasicAuth{}
		maxUploadSize = 0
	})

	JustBeforeEach(func() {
		pipeline := newTestPipeline(staging, recognizer, completer)
		service := NewService(db, pipeline, storage)
		server = NewServerWithMux(service, auth, maxUploadSize, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	post := func(path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleParseReceipt", func() {
		var (
			filename string
			data     []byte
			resp     *http.Response
		)

		BeforeEach(func() {
			filename = "receipt.jpg"
			data = []byte("fake image data")
		})

		JustBeforeEach(func() {
			body, contentType := multipartBody(filename, data, nil)
			resp = post("/parse-receipt", body, contentType)
		})

		When("parsing succeeds", func() {
			It("should return status OK with the fields", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var got map[string]string
				Expect(json.Unmarshal([]byte(readBody(resp)), &got)).To(Succeed())
				Expect(got).To(Equal(map[string]string{
					"vendor": "ACME STORE",
					"date":   "2024-03-04",
					"total":  "45.00",
				}))
			})

			It("should not keep the upload", func() {
				resp.Body.Close()
				Expect(staging.files).To(BeEmpty())
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("corrupt image")
			})

			It("should return the generic server error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(strings.TrimSpace(readBody(resp))).To(Equal(`{"message":"Server error parsing receipt."}`))
			})
		})

		When("the extension is not allowed", func() {
			BeforeEach(func() {
				filename = "receipt.txt"
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("Invalid file type"))
			})

			It("should not run OCR", func() {
				resp.Body.Close()
				Expect(recognizer.calls).To(Equal(0))
			})
		})

		When("the file is too large", func() {
			BeforeEach(func() {
				maxUploadSize = 16
				data = bytes.Repeat([]byte("x"), 64)
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("too large"))
			})
		})

		When("no file is uploaded", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("No receipt file was uploaded."))
			})
		})

		When("basic auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "admin", Password: "secret"}
			})

			It("should reject requests without credentials", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				resp.Body.Close()
			})
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/expenses", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("should reject a wrong password", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/expenses", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("should leave the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(ContainSubstring(`"ok"`))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/parse-receipt", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("handleSubmitExpense", func() {
		var (
			fields map[string]string
			resp   *http.Response
		)

		BeforeEach(func() {
			fields = map[string]string{
				"email":       "employee@example.com",
				"expenseType": "Meals",
				"vendor":      "ACME STORE",
				"date":        "2024-03-04",
				"total":       "45.00",
				"notes":       "team lunch",
			}
		})

		JustBeforeEach(func() {
			body, contentType := multipartBody("receipt.pdf", []byte("%PDF-1.4"), fields)
			resp = post("/submit-expense", body, contentType)
		})

		When("submission succeeds", func() {
			It("should return status Created with the expense", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var got struct {
					Success bool     `json:"success"`
					Expense *Expense `json:"expense"`
				}
				Expect(json.Unmarshal([]byte(readBody(resp)), &got)).To(Succeed())
				Expect(got.Success).To(BeTrue())
				Expect(got.Expense.Amount).To(Equal(int64(4500)))
				Expect(got.Expense.ExpenseType).To(Equal("Meals"))
				Expect(got.Expense.ContentType).To(Equal("application/pdf"))
				Expect(got.Expense.Status).To(Equal(StatusPending))
			})

			It("should store the receipt and the expense", func() {
				resp.Body.Close()
				Expect(storage.files).To(HaveLen(1))
				Expect(db.expenses).To(HaveLen(1))
			})
		})

		When("a required field is missing", func() {
			BeforeEach(func() {
				delete(fields, "email")
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("Missing required expense information"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("db error")
			})

			It("should return status Internal Server Error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(readBody(resp)).To(ContainSubstring("Failed to save expense data"))
			})
		})
	})

	Describe("handleListExpenses", func() {
		When("expenses exist", func() {
			BeforeEach(func() {
				db.expenses["id1"] = &Expense{ID: "id1", Vendor: "Test 1"}
				db.expenses["id2"] = &Expense{ID: "id2", Vendor: "Test 2"}
			})

			It("should return all expenses", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var expenses []*Expense
				Expect(json.Unmarshal([]byte(readBody(resp)), &expenses)).To(Succeed())
				Expect(expenses).To(HaveLen(2))
			})
		})

		When("no expenses exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(readBody(resp))).To(Equal("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("db error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetExpense", func() {
		BeforeEach(func() {
			db.expenses["id1"] = &Expense{ID: "id1", Vendor: "Target"}
		})

		It("should return the expense", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/id1")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var expense Expense
			Expect(json.Unmarshal([]byte(readBody(resp)), &expense)).To(Succeed())
			Expect(expense.Vendor).To(Equal("Target"))
		})

		It("should return status Not Found for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.getErr = errors.New("db error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses/id1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetReceiptFile", func() {
		BeforeEach(func() {
			db.expenses["id1"] = &Expense{ID: "id1", ReceiptFile: "id1_receipt.png", ContentType: "image/png"}
			storage.files["id1_receipt.png"] = []byte("png data")
		})

		It("should return the file with its content type", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/id1/receipt")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			Expect(readBody(resp)).To(Equal("png data"))
		})

		It("should return status Not Found for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/missing/receipt")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})
})
