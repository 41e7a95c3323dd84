package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketprobe/internal/client"
	"marketprobe/internal/fault"
	"marketprobe/internal/ops"
	"marketprobe/internal/protocol"
)

const scriptedInit = `{"type":"init","id":"P1","profileId":"prof-1","you":{"x":0,"y":0},"safeZones":[],"oreNodes":[{"x":0,"y":0,"type":"iron","amount":9}],"profile":{"isAdmin":false}}`

// scriptedServer authenticates one client, sends init, and hands the
// connection to script.
func scriptedServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","event":"auth-required"}`)) != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if conn.WriteMessage(websocket.TextMessage, []byte(scriptedInit)) != nil {
			return
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialWaitsForFirstInventory(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		time.Sleep(150 * time.Millisecond)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"inventory","inventory":{"items":{"iron":5},"currency":0},"bank":{"currency":0}}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if env, err := protocol.DecodeEnvelope(msg); err == nil && env.Type == protocol.TypeGather {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"gathered","ok":true,"item":"iron","amount":1}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"inventory","inventory":{"items":{"iron":6},"currency":0},"bank":{"currency":0}}`))
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := client.Dial(ctx, client.Config{URL: url, DialAttempts: 1})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()
	if got := s.Inventory().Count("iron"); got != 5 {
		t.Fatalf("mirror right after Dial: iron=%d, want 5", got)
	}

	got, err := ops.New(s, ops.Timeouts{Response: time.Second, Converge: 500 * time.Millisecond}, nil).Gather(ctx, "iron", 1)
	if err != nil || got != 1 {
		t.Fatalf("gather: got=%d err=%v", got, err)
	}
}

func TestDialFailsWithoutInventory(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	_, err := client.Dial(context.Background(), client.Config{URL: url, DialAttempts: 1, HandshakeTimeout: 200 * time.Millisecond})
	if !errors.Is(err, fault.ErrTimeout) {
		t.Fatalf("expected handshake timeout, got %v", err)
	}
}
