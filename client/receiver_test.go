package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"

	"tasksync/domain"
)

type fakeInvalidator struct {
	calls chan string
}

func (f *fakeInvalidator) Invalidate(todoID string) {
	select {
	case f.calls <- todoID:
	default:
	}
}

// liveServer is a minimal event endpoint: everything written to send is
// pushed to the client, everything the client writes lands on received.
type liveServer struct {
	*httptest.Server
	send     chan []byte
	received chan []byte
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ls := &liveServer{
		send:     make(chan []byte, 16),
		received: make(chan []byte, 16),
	}
	var wg sync.WaitGroup
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range ls.send {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				_ = conn.Close()
				return
			}
			select {
			case ls.received <- data:
			default:
			}
		}
	}))
	t.Cleanup(func() {
		close(ls.send)
		ls.Server.Close()
		wg.Wait()
	})
	return ls
}

func (ls *liveServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ls.URL, "http")
}

func (ls *liveServer) pushEvent(t *testing.T, ev domain.Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	ls.send <- data
}

func startReceiver(t *testing.T, cfg ReceiverConfig) (*Receiver, context.CancelFunc) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger, _ = test.NewNullLogger()
	}
	r := NewReceiver(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(cancel)
	waitFor(t, func() bool { return r.State() == StateOpen }, "connection never opened")
	return r, cancel
}

func TestReceiverInvalidatesOnMutationEvents(t *testing.T) {
	server := newLiveServer(t)
	inv := &fakeInvalidator{calls: make(chan string, 16)}
	startReceiver(t, ReceiverConfig{
		URL:         server.wsURL(),
		TodoID:      "doc",
		UserID:      "me",
		Invalidator: inv,
	})

	// Connecting itself invalidates once.
	select {
	case id := <-inv.calls:
		if id != "doc" {
			t.Fatalf("invalidated %q, want doc", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no invalidation on connect")
	}

	ev, err := domain.NewEvent(domain.EventTaskDeleted, domain.Task{ID: "a", TodoListID: "doc"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	server.pushEvent(t, ev)

	select {
	case <-inv.calls:
	case <-time.After(3 * time.Second):
		t.Fatal("mutation event did not invalidate")
	}
}

func TestReceiverSurfacesOtherUsersCursors(t *testing.T) {
	server := newLiveServer(t)
	cursors := make(chan domain.CursorPosition, 16)
	startReceiver(t, ReceiverConfig{
		URL:           server.wsURL(),
		TodoID:        "doc",
		UserID:        "me",
		OnCursor:      func(pos domain.CursorPosition) { cursors <- pos },
		FrameInterval: time.Millisecond,
	})

	// Own echoes are dropped, other collaborators come through.
	own, err := domain.NewCursorEvent(domain.CursorPosition{UserID: "me", X: 1, Y: 1})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	server.pushEvent(t, own)
	other, err := domain.NewCursorEvent(domain.CursorPosition{UserID: "peer", X: 4, Y: 2})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	server.pushEvent(t, other)

	select {
	case pos := <-cursors:
		if pos.UserID != "peer" || pos.X != 4 || pos.Y != 2 {
			t.Fatalf("unexpected cursor %#v", pos)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("peer cursor never surfaced")
	}
	select {
	case pos := <-cursors:
		t.Fatalf("own cursor echo surfaced: %#v", pos)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendCursorCoalescesToLatestPosition(t *testing.T) {
	server := newLiveServer(t)
	r, _ := startReceiver(t, ReceiverConfig{
		URL:           server.wsURL(),
		TodoID:        "doc",
		UserID:        "me",
		FrameInterval: 5 * time.Millisecond,
	})

	for i := 0; i < 50; i++ {
		r.SendCursor(float64(i), float64(i))
	}
	r.SendCursor(99, 7)

	deadline := time.After(3 * time.Second)
	for {
		var data []byte
		select {
		case data = <-server.received:
		case <-deadline:
			t.Fatal("final cursor position never arrived")
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("parse client message: %v", err)
		}
		if ev.Type != domain.EventCursorUpdate {
			t.Fatalf("unexpected client message type %q", ev.Type)
		}
		var pos domain.CursorPosition
		if err := json.Unmarshal(ev.Payload, &pos); err != nil {
			t.Fatalf("parse cursor payload: %v", err)
		}
		if pos.UserID != "me" {
			t.Fatalf("cursor stamped with %q, want me", pos.UserID)
		}
		if pos.X == 99 && pos.Y == 7 {
			return
		}
	}
}

func TestReceiverClosesOnContextCancel(t *testing.T) {
	server := newLiveServer(t)
	r, cancel := startReceiver(t, ReceiverConfig{
		URL:    server.wsURL(),
		TodoID: "doc",
		UserID: "me",
	})

	cancel()
	waitFor(t, func() bool { return r.State() == StateClosed }, "receiver never reached closed state")
}
