package conversation

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Speaker labels who produced a turn.
type Speaker string

const (
	SpeakerA    Speaker = "AI_A"
	SpeakerB    Speaker = "AI_B"
	SpeakerUser Speaker = "USER"
)

// Other returns the opposite automatic participant. USER maps to AI_A.
func (s Speaker) Other() Speaker {
	if s == SpeakerA {
		return SpeakerB
	}
	return SpeakerA
}

// IsAutomatic reports whether s is one of the two scheduled participants.
func (s Speaker) IsAutomatic() bool {
	return s == SpeakerA || s == SpeakerB
}

// Kind tags provenance independently of the speaker label.
type Kind string

const (
	KindAI   Kind = "ai"
	KindUser Kind = "user"
)

// PendingContent marks a placeholder turn whose reply is still being generated.
const PendingContent = "..."

// Turn is one immutable unit of conversation content.
type Turn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
}

// IsPending reports whether the turn is a generation placeholder.
func (t Turn) IsPending() bool {
	return t.Content == PendingContent
}

func newTurn(speaker Speaker, content string, kind Kind, now time.Time) Turn {
	return Turn{
		ID:        ulid.Make().String(),
		Speaker:   speaker,
		Content:   content,
		Timestamp: now.UTC(),
		Kind:      kind,
	}
}
