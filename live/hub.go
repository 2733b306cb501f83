package live

import "sync"

// Hub fans messages out to the local subscribers of a document topic.
// Delivery is best effort: a subscriber that cannot keep up loses messages
// instead of blocking the rest of the topic.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber channel on the topic.
func (h *Hub) Subscribe(topic string) chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan []byte]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the topic and closes it.
func (h *Hub) Unsubscribe(topic string, ch chan []byte) {
	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers msg to every subscriber of the topic without blocking.
func (h *Hub) Broadcast(topic string, msg []byte) {
	h.mu.Lock()
	for ch := range h.topics[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribers reports how many channels are registered on the topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	n := len(h.topics[topic])
	h.mu.Unlock()
	return n
}
