package eventstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/infrastructure/eventbus"
)

// fakeSubscriber hands out a channel the test controls directly, so ServeWS
// can be driven without a real eventbus.Bus.
type fakeSubscriber struct {
	ch           chan eventbus.Event
	gotRootID    string
	unsubscribed bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan eventbus.Event, 4)}
}

func (f *fakeSubscriber) Subscribe(rootID string) (<-chan eventbus.Event, func()) {
	f.gotRootID = rootID
	return f.ch, func() { f.unsubscribed = true }
}

func dialTestServer(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHandler_ForwardsEventsAsJSON(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	sub := newFakeSubscriber()
	h := NewHandler(sub, logger)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	conn := dialTestServer(t, srv, "?root_id=root-1")
	defer conn.Close()

	if sub.gotRootID != "root-1" {
		t.Fatalf("expected Subscribe called with root_id=root-1, got %q", sub.gotRootID)
	}

	sub.ch <- eventbus.Event{Type: eventbus.TypeNewQ4H, RootID: "root-1", Timestamp: time.Now(), Payload: map[string]string{"k": "v"}}

	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var got wireEvent
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != eventbus.TypeNewQ4H || got.RootID != "root-1" {
		t.Fatalf("unexpected wire event: %+v", got)
	}
}

func TestHandler_EndOfStreamClosesConnection(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	sub := newFakeSubscriber()
	h := NewHandler(sub, logger)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	conn := dialTestServer(t, srv, "")
	defer conn.Close()

	sub.ch <- eventbus.Event{Type: "__end_of_stream__", Timestamp: time.Now()}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to close after an end-of-stream event")
	}
}
