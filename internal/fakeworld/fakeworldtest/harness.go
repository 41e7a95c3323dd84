package fakeworldtest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketprobe/internal/client"
	"marketprobe/internal/fakeworld"
)

// Harness hosts a fake world behind an httptest server and dials sessions
// against it. Everything is torn down by t.Cleanup.
type Harness struct {
	T     *testing.T
	World *fakeworld.World
	URL   string
}

func New(t *testing.T, cfg fakeworld.Config) *Harness {
	t.Helper()
	w := fakeworld.New(cfg, nil)
	srv := httptest.NewServer(w.Handler())
	t.Cleanup(func() {
		srv.Close()
		w.Close()
	})
	return &Harness{
		T:     t,
		World: w,
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

// Dial opens a session named name. The session is closed at cleanup.
func (h *Harness) Dial(name string) *client.Session {
	h.T.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := client.Dial(ctx, client.Config{URL: h.URL, Name: name, DialAttempts: 3})
	if err != nil {
		h.T.Fatalf("dial %s: %v", name, err)
	}
	h.T.Cleanup(s.Close)
	return s
}
