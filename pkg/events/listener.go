// Package events implements the Event Bus + SSE/WS Gateway (§4.7):
// fan-out of persisted, sequence-numbered topic events to web-app
// clients, fed by Postgres NOTIFY and falling back to a since=N replay
// from the store for anything a client missed.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// notifyPointer mirrors pkg/store's own wire shape for the
// "tarsy_events" NOTIFY channel — store.publishEvent sends exactly
// this, so the listener never needs to depend on pkg/store beyond the
// read-side eventStore interface.
type notifyPointer struct {
	Topic    string `json:"topic"`
	Sequence int64  `json:"sequence"`
}

// Listener holds a dedicated LISTEN connection and forwards every
// notification arriving on the single "tarsy_events" channel to a
// Hub. Unlike the teacher's per-channel LISTEN/UNLISTEN (one Postgres
// channel per web-app subscription), every topic here funnels through
// one fixed channel — publishEvent already encodes the topic in the
// payload — so there is nothing to subscribe/unsubscribe per topic on
// the Postgres side; fan-out to topic-specific subscribers happens
// entirely in the Hub.
type Listener struct {
	dsn     string
	hub     *Hub
	conn    *pgx.Conn
	connMu  sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewListener constructs a Listener that will dispatch notifications
// to hub once Start is called.
func NewListener(dsn string, hub *Hub) *Listener {
	return &Listener{dsn: dsn, hub: hub}
}

// Start opens the dedicated LISTEN connection and begins the receive
// loop in the background. It blocks until the initial LISTEN succeeds.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN tarsy_events"); err != nil {
		_ = conn.Close(ctx)
		return err
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("event bus listener started")
	return nil
}

// receiveLoop is the sole goroutine touching the pgx connection,
// mirroring the teacher's NotifyListener (one owner avoids the
// "conn busy" race between WaitForNotification and any concurrent
// Exec).
func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // idle timeout, loop to re-check ctx
			}
			slog.Error("event bus NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		var ptr notifyPointer
		if err := json.Unmarshal([]byte(notification.Payload), &ptr); err != nil {
			slog.Warn("event bus: malformed NOTIFY payload", "error", err)
			continue
		}
		l.hub.dispatch(ctx, ptr.Topic, ptr.Sequence)
	}
}

func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		conn, err := pgx.Connect(ctx, l.dsn)
		if err != nil {
			slog.Error("event bus reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN tarsy_events"); err != nil {
			slog.Error("event bus re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			continue
		}
		l.conn = conn
		slog.Info("event bus listener reconnected")
		return
	}
}

// Stop halts the receive loop and closes the LISTEN connection.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
