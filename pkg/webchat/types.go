package webchat

import (
	"context"
	"time"

	"github.com/go-go-golems/duet/pkg/broadcast"
	"github.com/go-go-golems/duet/pkg/conversation"
	"github.com/go-go-golems/duet/pkg/scheduler"
)

// ConversationService is the scheduler surface used by the HTTP handlers.
type ConversationService interface {
	Initialize() bool
	Initialized() bool
	Status() scheduler.Status
	RequestNextTurn(ctx context.Context) (*conversation.Turn, error)
	InjectUserTurn(content string) conversation.Turn
}

// SnapshotSource reads the served log.
type SnapshotSource interface {
	Snapshot() conversation.Snapshot
}

// Broadcaster is the hub surface used by live channels.
type Broadcaster interface {
	Subscribe(sink broadcast.Sink) (broadcast.Handle, error)
	Unsubscribe(handle broadcast.Handle)
	SendSnapshot(handle broadcast.Handle, typ broadcast.EventType) error
	Count() int
}

type StateResponse struct {
	Log        []conversation.Turn `json:"log"`
	TotalCount int                 `json:"totalCount"`
	LiveMode   bool                `json:"liveMode"`
	Busy       bool                `json:"busy"`
}

type InitResponse struct {
	Success bool `json:"success"`
	StateResponse
	MessageCount int `json:"messageCount"`
}

type MessagesResponse struct {
	Log        []conversation.Turn `json:"log"`
	TotalCount int                 `json:"totalCount"`
}

type TurnResponse struct {
	Turn conversation.Turn `json:"turn"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Provider       string    `json:"provider"`
	HasProviderKey bool      `json:"hasProviderKey"`
	Subscribers    int       `json:"subscribers"`
}

type messageRequest struct {
	Content any `json:"content"`
}
