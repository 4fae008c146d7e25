// Package server exposes the daemon's three HTTP surfaces: the command
// endpoint, the event stream, and the health probe. The listener binds to
// loopback; the daemon serves a local desktop shell, not the network.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/internal/hub"
)

// commandTimeout bounds a single dispatched command. Terminal writes are
// instant; the slow cases are one-shot remote commands, which get ample
// room for a dial plus execution.
const commandTimeout = 60 * time.Second

// maxRequestBytes caps the command request body. File uploads travel
// base64-encoded in the body, so the cap sits above the transfer limit.
const maxRequestBytes = 48 << 20

// Dispatcher runs one named command.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args json.RawMessage) (interface{}, error)
}

// Server wires the router and owns the http.Server lifecycle.
type Server struct {
	http     *http.Server
	hub      *hub.Hub
	dispatch Dispatcher
	log      zerolog.Logger
	version  string
	started  time.Time
}

// New builds the server for the given listen address.
func New(addr string, dispatch Dispatcher, h *hub.Hub, version string, log zerolog.Logger) *Server {
	s := &Server{
		hub:      h,
		dispatch: dispatch,
		log:      log.With().Str("component", "server").Logger(),
		version:  version,
		started:  time.Now(),
	}

	router := httprouter.New()
	router.POST("/api/command", s.handleCommand)
	router.GET("/api/events", s.handleEvents)
	router.GET("/health", s.handleHealth)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, then drops the event subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.Close()
	return err
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// commandRequest is the envelope POSTed to /api/command.
type commandRequest struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// commandError is the error member of a failed command response.
type commandError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

type commandResponse struct {
	Success bool          `json:"success"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *commandError `json:"error,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req commandRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, commandResponse{
			Success: false,
			Error:   &commandError{Code: errors.ErrValidation, Message: "request body is not valid JSON"},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	result, err := s.dispatch.Dispatch(ctx, req.Name, req.Args)
	if err != nil {
		s.log.Warn().Str("command", req.Name).Err(err).Msg("command failed")
		s.writeJSON(w, http.StatusOK, commandResponse{
			Success: false,
			Error:   toCommandError(err),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, commandResponse{Success: true, Result: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"version":       s.version,
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"subscribers":   s.hub.Count(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

// toCommandError flattens any error into the response shape. Structured
// errors keep their code and suggestion; anything else becomes INTERNAL.
func toCommandError(err error) *commandError {
	var nErr *errors.Error
	if stderrors.As(err, &nErr) {
		return &commandError{
			Code:       nErr.Code,
			Message:    nErr.Message,
			Suggestion: nErr.Suggestion,
		}
	}
	return &commandError{Code: errors.ErrInternal, Message: err.Error()}
}
