package sink

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nasti-l/movement-tracker/processor"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *WebSocketHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().Clients != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.Stats().Clients, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketHubBroadcast(t *testing.T) {
	for _, enc := range []Encoding{EncodingJSON, EncodingMsgpack} {
		t.Run(string(enc), func(t *testing.T) {
			hub, err := NewWebSocketHub(HubConfig{Encoding: enc})
			if err != nil {
				t.Fatalf("NewWebSocketHub() failed: %v", err)
			}
			srv := httptest.NewServer(hub)
			defer srv.Close()
			defer hub.Close()

			a := dialHub(t, srv)
			b := dialHub(t, srv)
			waitClients(t, hub, 2)

			want := sampleRecord(42)
			if err := hub.Publish(want); err != nil {
				t.Fatalf("Publish() = %v", err)
			}

			wantType := websocket.TextMessage
			if enc == EncodingMsgpack {
				wantType = websocket.BinaryMessage
			}
			for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
				conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				mt, data, err := conn.ReadMessage()
				if err != nil {
					t.Fatalf("client %s read: %v", name, err)
				}
				if mt != wantType {
					t.Errorf("client %s message type = %d, want %d", name, mt, wantType)
				}
				got, err := enc.Decode(data)
				if err != nil {
					t.Fatalf("client %s decode: %v", name, err)
				}
				if got != want {
					t.Errorf("client %s got %+v", name, got)
				}
			}
			if s := hub.Stats(); s.Broadcast != 1 {
				t.Errorf("Broadcast = %d, want 1", s.Broadcast)
			}
		})
	}
}

func TestWebSocketHubSlowClientDrops(t *testing.T) {
	hub, err := NewWebSocketHub(HubConfig{ClientBuffer: 1})
	if err != nil {
		t.Fatalf("NewWebSocketHub() failed: %v", err)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	dialHub(t, srv) // never reads
	waitClients(t, hub, 1)

	// Far more than socket buffers plus the one-record backlog can absorb.
	big := sampleRecord(0)
	big.TraceID = strings.Repeat("x", 64*1024)
	for i := 0; i < 500; i++ {
		big.FrameSeq = uint64(i)
		if err := hub.Publish(big); err != nil {
			t.Fatalf("Publish() = %v", err)
		}
	}

	if s := hub.Stats(); s.Dropped == 0 {
		t.Errorf("Dropped = 0 for a client that never reads (%+v)", s)
	}
}

func TestWebSocketHubClientDisconnect(t *testing.T) {
	hub, err := NewWebSocketHub(HubConfig{})
	if err != nil {
		t.Fatalf("NewWebSocketHub() failed: %v", err)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitClients(t, hub, 0)
}

func TestWebSocketHubClose(t *testing.T) {
	hub, err := NewWebSocketHub(HubConfig{})
	if err != nil {
		t.Fatalf("NewWebSocketHub() failed: %v", err)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	if err := hub.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after Close = %v, want going-away close", err)
	}
	if err := hub.Publish(processor.Record{}); err == nil {
		t.Error("Publish() after Close succeeded")
	}
}

func TestNewWebSocketHubBadEncoding(t *testing.T) {
	if _, err := NewWebSocketHub(HubConfig{Encoding: "xml"}); err == nil {
		t.Error("NewWebSocketHub(xml) succeeded")
	}
}
