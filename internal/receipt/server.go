package receipt

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// DefaultMaxUploadSize is the largest receipt accepted when none is configured
const DefaultMaxUploadSize = 5 << 20

// Server handles HTTP requests for receipts and expenses
type Server struct {
	service       *Service
	basicAuth     BasicAuth
	maxUploadSize int64
	mux           *http.ServeMux
	httpServer    *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, maxUploadSize int64) *Server {
	return NewServerWithMux(service, basicAuth, maxUploadSize, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, maxUploadSize int64, mux *http.ServeMux) *Server {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	s := &Server{
		service:       service,
		basicAuth:     basicAuth,
		maxUploadSize: maxUploadSize,
		mux:           mux,
	}
	s.httpServer = &http.Server{
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Parser"`)
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /parse-receipt", s.requireAuth(s.handleParseReceipt))
	s.mux.HandleFunc("POST /submit-expense", s.requireAuth(s.handleSubmitExpense))

	s.mux.HandleFunc("GET /api/expenses/{id}/receipt", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/expenses/{id}", s.requireAuth(s.handleGetExpense))
	s.mux.HandleFunc("GET /api/expenses", s.requireAuth(s.handleListExpenses))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.httpServer.Addr = addr
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
