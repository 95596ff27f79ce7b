package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"forwardnet/core/types"
)

const hubHistoryLimit = 2048

// Envelope wraps an emitted event with the delivery metadata subscribers use
// to resume a stream.
type Envelope struct {
	Sequence  uint64       `json:"sequence"`
	Cursor    string       `json:"cursor"`
	Type      string       `json:"type"`
	Timestamp int64        `json:"timestamp"`
	Payload   *types.Event `json:"payload"`
}

// Hub fans emitted events out to subscribers. Every event gets a monotonic
// sequence number and lands in a bounded history, so a subscriber joining with
// a cursor receives the backlog it missed. Slow subscribers drop events rather
// than stall the emitter.
type Hub struct {
	mu       sync.Mutex
	seq      uint64
	nextID   uint64
	subs     map[uint64]chan Envelope
	history  []Envelope
	observer func(eventType string)
	nowFn    func() int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:  make(map[uint64]chan Envelope),
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetObserver installs a hook invoked with the type of every emitted event,
// used to feed metrics counters.
func (h *Hub) SetObserver(fn func(eventType string)) {
	h.mu.Lock()
	h.observer = fn
	h.mu.Unlock()
}

// SetNowFunc overrides the timestamp source.
func (h *Hub) SetNowFunc(now func() int64) {
	if now == nil {
		return
	}
	h.mu.Lock()
	h.nowFn = now
	h.mu.Unlock()
}

// Emit assigns the event a sequence number, records it, and broadcasts it to
// every subscriber without blocking.
func (h *Hub) Emit(evt Event) {
	if evt == nil {
		return
	}
	h.mu.Lock()
	h.seq++
	envelope := Envelope{
		Sequence:  h.seq,
		Cursor:    strconv.FormatUint(h.seq, 10),
		Type:      evt.EventType(),
		Timestamp: h.nowFn(),
		Payload:   evt.Event(),
	}
	h.history = append(h.history, envelope)
	if len(h.history) > hubHistoryLimit {
		excess := len(h.history) - hubHistoryLimit
		trimmed := make([]Envelope, hubHistoryLimit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	// Deliver while still holding the lock: cancel closes subscriber
	// channels under the same lock, so a send can never hit a closed
	// channel. Sends never block because slow subscribers drop.
	for _, ch := range h.subs {
		select {
		case ch <- envelope:
		default:
		}
	}
	observer := h.observer
	h.mu.Unlock()

	if observer != nil {
		observer(envelope.Type)
	}
}

// Subscribe registers a subscriber starting after the supplied cursor. It
// returns the live channel, a cancel function, and the backlog of buffered
// events newer than the cursor. An empty cursor skips the backlog's past and
// delivers everything retained.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Envelope, func(), []Envelope, error) {
	updates := make(chan Envelope, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, err
		}
		since = parsed
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	history := make([]Envelope, len(h.history))
	copy(history, h.history)
	h.mu.Unlock()

	backlog := make([]Envelope, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, entry)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			sub, ok := h.subs[id]
			if ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

// Recent returns up to limit buffered events, newest last. A non-positive
// limit returns the full buffer.
func (h *Hub) Recent(limit int) []Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.history
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Envelope, len(entries))
	copy(out, entries)
	return out
}
