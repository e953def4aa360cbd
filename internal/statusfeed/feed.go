// Package statusfeed is the optional, best-effort websocket broadcaster
// (C11): it republishes every mergejob.Transition to connected dashboard
// clients and never blocks the sweep that produces them.
package statusfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marge-go/mergebot/internal/mergejob"
)

// clientBuffer bounds how many pending events a slow client can accumulate
// before the oldest is dropped to keep the publisher non-blocking.
const clientBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Feed is a mergejob.Notifier that fans transitions out to every connected
// websocket client. There is no query surface and no persisted history: a
// client that connects mid-sweep only sees events from that point on.
type Feed struct {
	Logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	ch   chan mergejob.Transition
}

// New constructs an empty Feed.
func New(logger *slog.Logger) *Feed {
	return &Feed{Logger: logger, clients: make(map[*client]struct{})}
}

// Notify implements mergejob.Notifier. It never blocks: a full client
// channel drops the oldest pending event for that client before enqueuing
// the new one.
func (f *Feed) Notify(t mergejob.Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.ch <- t:
		default:
			select {
			case <-c.ch:
			default:
			}
			select {
			case c.ch <- t:
			default:
			}
		}
	}
}

// Handler upgrades the connection and streams transitions to it until the
// client disconnects or the server shuts down. It never reads client
// messages beyond the initial upgrade handshake.
func (f *Feed) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.Logger.Warn("status feed upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, ch: make(chan mergejob.Transition, clientBuffer)}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, c)
		f.mu.Unlock()
		_ = conn.Close()
	}()

	// A reader goroutine is required so the connection notices a client
	// close promptly; any inbound message is discarded.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case t := <-c.ch:
			payload, err := json.Marshal(t)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// Serve starts an HTTP server mounting Handler at /status and blocks until
// ctx is cancelled, at which point it shuts down gracefully. addr defaults
// to loopback-only (127.0.0.1:8765) when empty.
func Serve(ctx context.Context, addr string, feed *Feed) error {
	if addr == "" {
		addr = "127.0.0.1:8765"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", feed.Handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
