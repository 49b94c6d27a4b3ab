package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/simerr"
)

// DefaultPort is the port the control server listens on by default.
const DefaultPort = 8270

const (
	maxRequestBytes = 32 << 20
	shutdownTimeout = 5 * time.Second
)

// Request is the body of POST /rpc.
type Request struct {
	Operation string `json:"operation"`
	Args      Args   `json:"args,omitempty"`
}

// Response is the body of every /rpc reply.
type Response struct {
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a failed call's taxonomy class and message.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Server exposes a Table over HTTP.
type Server struct {
	table  *Table
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer registers the control routes for table.
func NewServer(table *Table, logger *slog.Logger) *Server {
	s := &Server{
		table:  table,
		mux:    http.NewServeMux(),
		logger: logging.OrDiscard(logger),
	}
	s.mux.HandleFunc("POST /rpc", s.handleRPC)
	s.mux.HandleFunc("GET /operations", s.handleOperations)
	return s
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until ctx ends or the Quit operation has
// run, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("control server listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-s.table.Quitted():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("control server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.table.Operations())
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	body := io.LimitReader(r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "", simerr.Configuration("decode request: %w", err))
		return
	}
	if _, ok := s.table.Lookup(req.Operation); !ok {
		s.fail(w, http.StatusNotFound, req.Operation, simerr.Configuration("unknown operation %q", req.Operation))
		return
	}

	start := time.Now()
	result, err := s.table.Call(r.Context(), req.Operation, req.Args)
	if err != nil {
		s.fail(w, statusFor(simerr.Kind(err)), req.Operation, err)
		return
	}
	s.logger.Debug("operation completed", "operation", req.Operation, "duration", time.Since(start))
	writeJSON(w, http.StatusOK, Response{Result: result})
}

func (s *Server) fail(w http.ResponseWriter, status int, op string, err error) {
	kind := simerr.Kind(err)
	s.logger.Warn("operation failed", "operation", op, "kind", kind, "error", err)
	writeJSON(w, status, Response{Error: &ErrorBody{Kind: kind, Message: err.Error()}})
}

func statusFor(kind string) int {
	switch kind {
	case "configuration", "recognition", "validation":
		return http.StatusBadRequest
	case "simulator", "adaptor":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
