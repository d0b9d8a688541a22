package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/dialog"
	"github.com/dialogkernel/driver/internal/domain/entity"
	apperrors "github.com/dialogkernel/driver/pkg/errors"
)

type fakeApp struct {
	inputDialogID string
	inputErr      error
	stopOK        bool
	stopReason    entity.StopReason
	resumeErr     error
	answerErr     error
}

func (f *fakeApp) InputDialog(ctx context.Context, dialogID, content string) (string, dialog.DriveOutcome, error) {
	if dialogID == "" {
		dialogID = "new-dialog"
	}
	return dialogID, dialog.DriveOutcome{}, f.inputErr
}

func (f *fakeApp) StopDialog(dialogID string, reason entity.StopReason) bool {
	f.stopReason = reason
	return f.stopOK
}

func (f *fakeApp) ResumeDialog(ctx context.Context, dialogID string) error {
	return f.resumeErr
}

func (f *fakeApp) AnswerQ4H(ctx context.Context, q4hID, answer string) (dialog.DriveOutcome, error) {
	return dialog.DriveOutcome{}, f.answerErr
}

func newTestServer(app *fakeApp) *httptest.Server {
	logger, _ := zap.NewDevelopment()
	srv := &Server{app: app, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/input", srv.handleInput)
	mux.HandleFunc("/stop", srv.handleStop)
	mux.HandleFunc("/resume", srv.handleResume)
	mux.HandleFunc("/answer", srv.handleAnswer)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestHandleInput_OpensNewDialogWhenEmpty(t *testing.T) {
	app := &fakeApp{}
	srv := newTestServer(app)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/input", inputRequest{Content: "hello"})
	defer resp.Body.Close()

	var got response
	json.NewDecoder(resp.Body).Decode(&got)
	if !got.OK || got.DialogID != "new-dialog" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHandleStop_DefaultsToUserReason(t *testing.T) {
	app := &fakeApp{stopOK: true}
	srv := newTestServer(app)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/stop", stopRequest{DialogID: "d1"})
	defer resp.Body.Close()

	if app.stopReason != entity.StopUser {
		t.Fatalf("expected default reason %q, got %q", entity.StopUser, app.stopReason)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleStop_NoActiveRunReturns404(t *testing.T) {
	app := &fakeApp{stopOK: false}
	srv := newTestServer(app)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/stop", stopRequest{DialogID: "d1", Reason: "emergency_stop"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for no active run, got %d", resp.StatusCode)
	}
	if app.stopReason != entity.StopEmergency {
		t.Fatalf("expected emergency_stop reason to pass through, got %q", app.stopReason)
	}
}

func TestHandleAnswer_NotFoundErrorMapsTo404(t *testing.T) {
	app := &fakeApp{answerErr: apperrors.NewNotFoundError("no pending question q1")}
	srv := newTestServer(app)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/answer", answerRequest{Q4HID: "q1", Answer: "42"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleResume_GenericErrorMapsTo400(t *testing.T) {
	app := &fakeApp{resumeErr: errors.New("boom")}
	srv := newTestServer(app)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/resume", resumeRequest{DialogID: "d1"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
