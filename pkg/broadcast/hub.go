package broadcast

import (
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/duet/pkg/conversation"
)

// SnapshotViewer runs fn with a snapshot while appends are held off.
type SnapshotViewer interface {
	View(fn func(conversation.Snapshot))
}

type HubConfig struct {
	Store  SnapshotViewer
	Logger *zerolog.Logger
}

// Handle identifies a subscription.
type Handle string

// Hub fans events out to every registered sink and prunes sinks that fail.
// Lock order is store, then hub: the hub never calls into the store while it
// holds its own mutex.
type Hub struct {
	store  SnapshotViewer
	logger zerolog.Logger

	mu     sync.Mutex
	sinks  map[Handle]Sink
	closed bool
}

var _ conversation.Observer = (*Hub)(nil)

func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errors.New("hub store is nil")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Hub{
		store:  cfg.Store,
		logger: logger.With().Str("component", "broadcast").Logger(),
		sinks:  map[Handle]Sink{},
	}, nil
}

// Subscribe registers sink and pushes a connected event with the current
// snapshot. Registration and the first push happen atomically with respect to
// appends, so the sink never misses or duplicates a mutation.
func (h *Hub) Subscribe(sink Sink) (Handle, error) {
	if sink == nil {
		return "", errors.New("sink is nil")
	}
	handle := Handle(uuid.NewString())
	var subErr error
	h.store.View(func(snap conversation.Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			subErr = errors.New("hub is closed")
			return
		}
		if err := sink.Accept(NewEvent(EventConnected, snap, nil)); err != nil {
			subErr = errors.Wrap(err, "push initial snapshot")
			return
		}
		h.sinks[handle] = sink
	})
	if subErr != nil {
		return "", subErr
	}
	h.logger.Debug().Str("sink", string(handle)).Msg("sink subscribed")
	return handle, nil
}

// Unsubscribe removes a sink. Unknown or already removed handles are ignored.
func (h *Hub) Unsubscribe(handle Handle) {
	h.mu.Lock()
	_, ok := h.sinks[handle]
	delete(h.sinks, handle)
	h.mu.Unlock()
	if ok {
		h.logger.Debug().Str("sink", string(handle)).Msg("sink unsubscribed")
	}
}

// Publish offers ev to every sink. Sinks that refuse it are dropped and closed;
// the failure never reaches the caller.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	var dropped []Sink
	for handle, sink := range h.sinks {
		if err := sink.Accept(ev); err != nil {
			h.logger.Warn().Err(err).Str("sink", string(handle)).Str("event", string(ev.Type)).Msg("sink write failed, dropping sink")
			delete(h.sinks, handle)
			dropped = append(dropped, sink)
		}
	}
	h.mu.Unlock()
	for _, sink := range dropped {
		closeSink(sink)
	}
}

// SendSnapshot pushes the current snapshot to a single sink, typically as a
// heartbeat or an explicit re-sync.
func (h *Hub) SendSnapshot(handle Handle, typ EventType) error {
	var sendErr error
	var failed Sink
	h.store.View(func(snap conversation.Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		sink, ok := h.sinks[handle]
		if !ok {
			sendErr = ErrSinkClosed
			return
		}
		if err := sink.Accept(NewEvent(typ, snap, nil)); err != nil {
			delete(h.sinks, handle)
			failed = sink
			sendErr = err
		}
	})
	if failed != nil {
		closeSink(failed)
	}
	return sendErr
}

// OnAppend publishes the mutation that produced snap.
func (h *Hub) OnAppend(turn conversation.Turn, snap conversation.Snapshot) {
	t := turn
	h.Publish(NewEvent(EventTypeFor(turn), snap, &t))
}

// OnRemove publishes a state snapshot so channels drop the retracted turn.
func (h *Hub) OnRemove(_ conversation.Turn, snap conversation.Snapshot) {
	h.Publish(NewEvent(EventState, snap, nil))
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Close drops and closes every sink. Later subscriptions fail.
func (h *Hub) Close() {
	h.mu.Lock()
	sinks := make([]Sink, 0, len(h.sinks))
	for handle, sink := range h.sinks {
		sinks = append(sinks, sink)
		delete(h.sinks, handle)
	}
	h.closed = true
	h.mu.Unlock()
	for _, sink := range sinks {
		closeSink(sink)
	}
}

func closeSink(sink Sink) {
	switch c := sink.(type) {
	case interface{ Close() }:
		c.Close()
	case io.Closer:
		_ = c.Close()
	}
}
