package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/duet/pkg/conversation"
)

func TestQueueDropsOnFullBuffer(t *testing.T) {
	q := NewQueue(1)
	ev := NewEvent(EventState, conversation.Snapshot{}, nil)

	require.NoError(t, q.Accept(ev))
	require.ErrorIs(t, q.Accept(ev), ErrSinkFull)

	select {
	case <-q.Done():
	default:
		t.Fatal("queue should be closed after overflow")
	}
	require.ErrorIs(t, q.Accept(ev), ErrSinkClosed)
}

func TestQueueDeliversInOrder(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Accept(Event{Type: EventConnected}))
	require.NoError(t, q.Accept(Event{Type: EventMessage}))
	require.Equal(t, EventConnected, (<-q.Events()).Type)
	require.Equal(t, EventMessage, (<-q.Events()).Type)

	q.Close()
	q.Close()
}

func TestHubDropsSlowQueue(t *testing.T) {
	store, hub := newTestHub(t, 10)
	q := NewQueue(2)
	_, err := hub.Subscribe(q)
	require.NoError(t, err)

	store.Append(conversation.SpeakerA, "1", conversation.KindAI)
	store.Append(conversation.SpeakerB, "2", conversation.KindAI)
	require.Equal(t, 0, hub.Count())
}

func TestEventTypeFor(t *testing.T) {
	require.Equal(t, EventUserMessage, EventTypeFor(conversation.Turn{Kind: conversation.KindUser}))
	require.Equal(t, EventMessage, EventTypeFor(conversation.Turn{Kind: conversation.KindAI}))
}
