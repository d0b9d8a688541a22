// Package control implements the §6 "local control channel": a tiny
// JSON-over-Unix-socket API the `driver run` process listens on, and the
// `input`/`stop`/`resume`/`answer` operator subcommands talk to as
// short-lived clients.
package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/dialog"
	"github.com/dialogkernel/driver/internal/domain/entity"
	apperrors "github.com/dialogkernel/driver/pkg/errors"
)

// SocketName is the control socket's filename under the workspace root.
const SocketName = "control.sock"

// driverApp is the narrow slice of *application.App the control server
// talks to — an interface so handlers can be tested against a fake instead
// of a fully wired App.
type driverApp interface {
	InputDialog(ctx context.Context, dialogID, content string) (string, dialog.DriveOutcome, error)
	StopDialog(dialogID string, reason entity.StopReason) bool
	ResumeDialog(ctx context.Context, dialogID string) error
	AnswerQ4H(ctx context.Context, q4hID, answer string) (dialog.DriveOutcome, error)
}

type inputRequest struct {
	DialogID string `json:"dialog_id"`
	Content  string `json:"content"`
}

type stopRequest struct {
	DialogID string `json:"dialog_id"`
	Reason   string `json:"reason"`
}

type resumeRequest struct {
	DialogID string `json:"dialog_id"`
}

type answerRequest struct {
	Q4HID  string `json:"q4h_id"`
	Answer string `json:"answer"`
}

type response struct {
	OK       bool   `json:"ok"`
	DialogID string `json:"dialog_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Server exposes App's operator commands over a Unix socket.
type Server struct {
	app        driverApp
	socketPath string
	logger     *zap.Logger
	listener   net.Listener
	httpSrv    *http.Server
}

func NewServer(app driverApp, socketPath string, logger *zap.Logger) *Server {
	return &Server{app: app, socketPath: socketPath, logger: logger}
}

// Start binds the control socket and serves requests until Stop is called.
// Runs in the caller's goroutine; callers typically `go srv.Start()`.
func (s *Server) Start() error {
	os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/input", s.handleInput)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/answer", s.handleAnswer)

	s.httpSrv = &http.Server{Handler: mux}
	s.logger.Info("control socket listening", zap.String("path", s.socketPath))
	return s.httpSrv.Serve(ln)
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	os.Remove(s.socketPath)
	return err
}

func writeJSON(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	if !resp.OK {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(resp)
}

// writeError maps a handler error onto the JSON response, using a 404 for
// not-found conditions (e.g. answering a question that's already resolved)
// and a generic 400 otherwise.
func writeError(w http.ResponseWriter, dialogID string, err error) {
	status := http.StatusBadRequest
	if apperrors.IsNotFound(err) {
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{DialogID: dialogID, Error: err.Error()})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, response{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	dialogID, _, err := s.app.InputDialog(ctx, req.DialogID, req.Content)
	if err != nil {
		writeError(w, dialogID, err)
		return
	}
	writeJSON(w, response{OK: true, DialogID: dialogID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, response{Error: err.Error()})
		return
	}
	reason := entity.StopReason(req.Reason)
	if reason == "" {
		reason = entity.StopUser
	}
	if !s.app.StopDialog(req.DialogID, reason) {
		writeError(w, req.DialogID, apperrors.NewNotFoundError("no active run for dialog "+req.DialogID))
		return
	}
	writeJSON(w, response{OK: true, DialogID: req.DialogID})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, response{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	if err := s.app.ResumeDialog(ctx, req.DialogID); err != nil {
		writeError(w, req.DialogID, err)
		return
	}
	writeJSON(w, response{OK: true, DialogID: req.DialogID})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, response{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	if _, err := s.app.AnswerQ4H(ctx, req.Q4HID, req.Answer); err != nil {
		writeError(w, "", err)
		return
	}
	writeJSON(w, response{OK: true})
}
