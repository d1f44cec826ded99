package broadcast

import (
	"time"

	"github.com/go-go-golems/duet/pkg/conversation"
)

type EventType string

const (
	EventConnected   EventType = "connected"
	EventState       EventType = "state"
	EventHeartbeat   EventType = "heartbeat"
	EventMessage     EventType = "message"
	EventUserMessage EventType = "user_message"
)

// Event is one frame pushed to live channels. Every event carries a full
// snapshot so a client can always replace its local state wholesale.
type Event struct {
	Type       EventType           `json:"type"`
	Turn       *conversation.Turn  `json:"turn,omitempty"`
	Log        []conversation.Turn `json:"log"`
	TotalCount int                 `json:"totalCount"`
	Timestamp  time.Time           `json:"timestamp"`
}

func NewEvent(typ EventType, snap conversation.Snapshot, turn *conversation.Turn) Event {
	log := snap.Log
	if log == nil {
		log = []conversation.Turn{}
	}
	return Event{
		Type:       typ,
		Turn:       turn,
		Log:        log,
		TotalCount: snap.TotalCount,
		Timestamp:  time.Now().UTC(),
	}
}

// EventTypeFor maps an appended turn to the event announcing it.
func EventTypeFor(turn conversation.Turn) EventType {
	if turn.Kind == conversation.KindUser {
		return EventUserMessage
	}
	return EventMessage
}
