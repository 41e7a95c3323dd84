package fakeworld

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"marketprobe/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves one websocket connection per player.
func (w *World) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		p := w.handshake(conn)
		if p == nil {
			return
		}
		defer w.leave(p.id)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			defer conn.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-p.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.DecodeEnvelope(msg)
			if err != nil {
				continue
			}
			w.handle(p.id, env)
		}
	}
}

func (w *World) handshake(conn *websocket.Conn) *player {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, mustJSON(protocol.ControlMsg{Type: protocol.TypeControl, Event: protocol.EventAuthRequired})); err != nil {
		return nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil || env.Type != protocol.TypeAuth {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected auth"), time.Now().Add(time.Second))
		return nil
	}
	var auth protocol.AuthMsg
	if err := env.Decode(&auth); err != nil || auth.Account == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad auth"), time.Now().Add(time.Second))
		return nil
	}
	return w.join(auth.Account)
}
