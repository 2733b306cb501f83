package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// State is the lifecycle of the live update connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Invalidator marks a cached document stale; the Coordinator implements it.
type Invalidator interface {
	Invalidate(todoID string)
}

// ReceiverConfig configures a live update connection for one document.
type ReceiverConfig struct {
	URL         string
	TodoID      string
	UserID      string
	Invalidator Invalidator
	OnCursor    func(domain.CursorPosition)
	Logger      *log.Logger

	// FrameInterval paces cursor traffic in both directions; at most one
	// cursor message per collaborator passes per interval.
	FrameInterval  time.Duration
	ReconnectDelay time.Duration
}

// Receiver consumes live updates for one document over a websocket.
// Mutation events are treated purely as invalidation signals; cursor
// events are coalesced per collaborator and surfaced at frame rate.
type Receiver struct {
	cfg   ReceiverConfig
	state atomic.Int32

	writeMu sync.Mutex
	conn    *websocket.Conn

	cursorMu sync.Mutex
	incoming map[string]domain.CursorPosition
	outgoing *domain.CursorPosition
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Logger == nil {
		cfg.Logger = log.New()
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 16 * time.Millisecond
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	r := &Receiver{
		cfg:      cfg,
		incoming: make(map[string]domain.CursorPosition),
	}
	r.state.Store(int32(StateConnecting))
	return r
}

// State reports the current connection state.
func (r *Receiver) State() State {
	return State(r.state.Load())
}

// Run dials the live channel and processes events until the context ends.
// Lost connections are redialed after a fixed delay; nothing is queued
// across a disconnect, the post-reconnect invalidation resynchronizes.
func (r *Receiver) Run(ctx context.Context) {
	defer r.state.Store(int32(StateClosed))

	go r.flushCursors(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		r.state.Store(int32(StateConnecting))

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.URL, nil)
		if err != nil {
			r.cfg.Logger.WithError(err).Warn("live channel dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.ReconnectDelay):
			}
			continue
		}

		r.setConn(conn)
		r.state.Store(int32(StateOpen))
		// Anything may have changed while disconnected.
		if r.cfg.Invalidator != nil {
			r.cfg.Invalidator.Invalidate(r.cfg.TodoID)
		}

		r.readLoop(ctx, conn)
		r.setConn(nil)
		_ = conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.ReconnectDelay):
		}
	}
}

func (r *Receiver) setConn(conn *websocket.Conn) {
	r.writeMu.Lock()
	r.conn = conn
	r.writeMu.Unlock()
}

func (r *Receiver) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.cfg.Logger.WithError(err).Error("unable to parse live event")
			continue
		}
		r.handleEvent(ev)
	}
}

func (r *Receiver) handleEvent(ev domain.Event) {
	switch ev.Type {
	case domain.EventCursorUpdate:
		var pos domain.CursorPosition
		if err := json.Unmarshal(ev.Payload, &pos); err != nil {
			r.cfg.Logger.WithError(err).Error("unable to parse cursor payload")
			return
		}
		if pos.UserID == "" || pos.UserID == r.cfg.UserID {
			return
		}
		r.cursorMu.Lock()
		r.incoming[pos.UserID] = pos
		r.cursorMu.Unlock()
	case domain.EventTaskCreated, domain.EventTaskUpdated, domain.EventTaskBulkUpdated,
		domain.EventTaskDeleted, domain.EventTodoUpdated:
		// Event payloads are signals, never merged into the snapshot.
		if r.cfg.Invalidator != nil {
			r.cfg.Invalidator.Invalidate(r.cfg.TodoID)
		}
	default:
		r.cfg.Logger.WithField("type", ev.Type).Debug("ignoring unknown live event")
	}
}

// SendCursor records the local pointer position. The latest position wins
// within a frame; the flusher sends at most one message per interval.
func (r *Receiver) SendCursor(x, y float64) {
	pos := domain.CursorPosition{UserID: r.cfg.UserID, X: x, Y: y}
	r.cursorMu.Lock()
	r.outgoing = &pos
	r.cursorMu.Unlock()
}

func (r *Receiver) flushCursors(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.cursorMu.Lock()
		out := r.outgoing
		r.outgoing = nil
		in := r.incoming
		if len(in) > 0 {
			r.incoming = make(map[string]domain.CursorPosition)
		}
		r.cursorMu.Unlock()

		if r.cfg.OnCursor != nil {
			for _, pos := range in {
				r.cfg.OnCursor(pos)
			}
		}

		if out == nil {
			continue
		}
		ev, err := domain.NewCursorEvent(*out)
		if err != nil {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		r.writeMu.Lock()
		conn := r.conn
		if conn != nil {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				r.cfg.Logger.WithError(err).Debug("cursor send failed")
			}
		}
		r.writeMu.Unlock()
	}
}
