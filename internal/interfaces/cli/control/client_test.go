package control

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

// startUnixServer runs a real Server bound to a Unix socket under a temp
// dir, matching how runDriver wires it in production, and returns the
// socket path for a Client to dial.
func startUnixServer(t *testing.T, app *fakeApp) string {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, SocketName)

	logger, _ := zap.NewDevelopment()
	srv := &Server{app: app, socketPath: socketPath, logger: logger}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/input", srv.handleInput)
	mux.HandleFunc("/stop", srv.handleStop)
	mux.HandleFunc("/resume", srv.handleResume)
	mux.HandleFunc("/answer", srv.handleAnswer)
	httpSrv := &http.Server{Handler: mux}
	go httpSrv.Serve(ln)

	t.Cleanup(func() {
		httpSrv.Close()
		os.Remove(socketPath)
	})
	return socketPath
}

func TestClient_InputRoundTrip(t *testing.T) {
	app := &fakeApp{}
	socketPath := startUnixServer(t, app)
	client := NewClient(socketPath)

	got, err := client.Input(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	if got != "new-dialog" {
		t.Fatalf("expected new-dialog, got %q", got)
	}
}

func TestClient_StopSurfacesServerError(t *testing.T) {
	app := &fakeApp{stopOK: false}
	socketPath := startUnixServer(t, app)
	client := NewClient(socketPath)

	if err := client.Stop(context.Background(), "d1", "user_stop"); err == nil {
		t.Fatal("expected an error when the server reports no active run")
	}
}

func TestClient_AnswerSuccess(t *testing.T) {
	app := &fakeApp{}
	socketPath := startUnixServer(t, app)
	client := NewClient(socketPath)

	if err := client.Answer(context.Background(), "q1", "42"); err != nil {
		t.Fatalf("answer: %v", err)
	}
}
