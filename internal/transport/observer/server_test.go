package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"clayformer.ai/internal/protocol"
	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/voxel"
)

func dial(t *testing.T, srv *httptest.Server, sub protocol.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sub.Type = protocol.TypeSubscribe
	sub.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients=%d want %d", s.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_StreamsFilteredEvents(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	all := dial(t, srv, protocol.SubscribeMsg{})
	defer all.Close()
	done := dial(t, srv, protocol.SubscribeMsg{Kinds: []string{"success"}})
	defer done.Close()
	waitClients(t, s, 2)

	form := voxel.BlockPos{X: 1, Y: 2, Z: 3}
	s.Emit(shaping.Event{Kind: shaping.EventStarted, RunID: "r1", Form: form, Layer: -1, At: time.Now()})
	s.Emit(shaping.Event{Kind: shaping.EventSuccess, RunID: "r1", Form: form, Applied: 5, At: time.Now()})

	read := func(c *websocket.Conn) protocol.EventMsg {
		t.Helper()
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, b, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m protocol.EventMsg
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return m
	}

	if m := read(all); m.Kind != "started" || m.Form != [3]int{1, 2, 3} {
		t.Fatalf("first=%+v", m)
	}
	if m := read(all); m.Kind != "success" || m.Applied != 5 {
		t.Fatalf("second=%+v", m)
	}
	if m := read(done); m.Kind != "success" || m.Status != "Done" {
		t.Fatalf("filtered=%+v", m)
	}

	_ = all.Close()
	waitClients(t, s, 1)
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
	if s.Clients() != 0 {
		t.Fatalf("client registered after a bad handshake")
	}
}

func TestServer_LoopbackOnly(t *testing.T) {
	s := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/observe", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	s.WSHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code=%d want 403", rec.Code)
	}
	if !isLoopbackRemote("[::1]:80") || isLoopbackRemote("example.com:80") {
		t.Fatalf("isLoopbackRemote misclassified")
	}
}
