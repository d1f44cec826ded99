package broadcast

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/duet/pkg/conversation"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   error
	closed bool
}

func (s *recordingSink) Accept(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func newTestHub(t *testing.T, window int) (*conversation.Store, *Hub) {
	t.Helper()
	store := conversation.NewStore(window)
	nop := zerolog.Nop()
	hub, err := NewHub(HubConfig{Store: store, Logger: &nop})
	require.NoError(t, err)
	store.SetObserver(hub)
	return store, hub
}

func TestNewHub_ValidatesStore(t *testing.T) {
	_, err := NewHub(HubConfig{})
	require.ErrorContains(t, err, "hub store is nil")
}

func TestHubSubscribe_PushesSnapshotMatchingStore(t *testing.T) {
	store, hub := newTestHub(t, conversation.DefaultWindow)
	for i := 0; i < 120; i++ {
		store.Append(conversation.SpeakerA, fmt.Sprint(i), conversation.KindAI)
	}

	sink := &recordingSink{}
	_, err := hub.Subscribe(sink)
	require.NoError(t, err)

	events := sink.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, EventConnected, events[0].Type)
	require.Equal(t, store.Recent(100), events[0].Log)
	require.Equal(t, store.Count(), events[0].TotalCount)
	require.Nil(t, events[0].Turn)
}

func TestHubSubscribe_EmptyLogIsNotNull(t *testing.T) {
	_, hub := newTestHub(t, 10)
	sink := &recordingSink{}
	_, err := hub.Subscribe(sink)
	require.NoError(t, err)
	require.NotNil(t, sink.snapshot()[0].Log)
}

func TestHubPublishesAppendsInOrder(t *testing.T) {
	store, hub := newTestHub(t, 10)
	sink := &recordingSink{}
	_, err := hub.Subscribe(sink)
	require.NoError(t, err)

	a := store.Append(conversation.SpeakerA, "hi", conversation.KindAI)
	u := store.Append(conversation.SpeakerUser, "hey", conversation.KindUser)

	events := sink.snapshot()
	require.Len(t, events, 3)
	require.Equal(t, EventMessage, events[1].Type)
	require.Equal(t, a, *events[1].Turn)
	require.Equal(t, 1, events[1].TotalCount)
	require.Equal(t, EventUserMessage, events[2].Type)
	require.Equal(t, u, *events[2].Turn)
	require.Len(t, events[2].Log, 2)
}

func TestHubPublish_PrunesFailingSinks(t *testing.T) {
	store, hub := newTestHub(t, 10)
	good := &recordingSink{}
	bad := &recordingSink{}
	_, err := hub.Subscribe(good)
	require.NoError(t, err)
	_, err = hub.Subscribe(bad)
	require.NoError(t, err)
	require.Equal(t, 2, hub.Count())

	bad.mu.Lock()
	bad.fail = errors.New("broken pipe")
	bad.mu.Unlock()

	require.NotPanics(t, func() {
		store.Append(conversation.SpeakerA, "x", conversation.KindAI)
	})
	require.Equal(t, 1, hub.Count())
	require.True(t, bad.closed)
	require.Len(t, good.snapshot(), 2)
}

func TestHubSubscribe_FailingInitialPushIsNotRegistered(t *testing.T) {
	_, hub := newTestHub(t, 10)
	_, err := hub.Subscribe(&recordingSink{fail: ErrSinkClosed})
	require.ErrorIs(t, err, ErrSinkClosed)
	require.Equal(t, 0, hub.Count())

	_, err = hub.Subscribe(nil)
	require.Error(t, err)
}

func TestHubUnsubscribe_Idempotent(t *testing.T) {
	store, hub := newTestHub(t, 10)
	sink := &recordingSink{}
	handle, err := hub.Subscribe(sink)
	require.NoError(t, err)

	hub.Unsubscribe(handle)
	hub.Unsubscribe(handle)
	hub.Unsubscribe("never-registered")
	require.Equal(t, 0, hub.Count())

	store.Append(conversation.SpeakerA, "x", conversation.KindAI)
	require.Len(t, sink.snapshot(), 1)
}

func TestHubSendSnapshot(t *testing.T) {
	store, hub := newTestHub(t, 10)
	sink := &recordingSink{}
	handle, err := hub.Subscribe(sink)
	require.NoError(t, err)
	store.Append(conversation.SpeakerA, "x", conversation.KindAI)

	require.NoError(t, hub.SendSnapshot(handle, EventHeartbeat))
	events := sink.snapshot()
	require.Equal(t, EventHeartbeat, events[len(events)-1].Type)
	require.Equal(t, 1, events[len(events)-1].TotalCount)

	hub.Unsubscribe(handle)
	require.ErrorIs(t, hub.SendSnapshot(handle, EventHeartbeat), ErrSinkClosed)
}

func TestHubClose(t *testing.T) {
	_, hub := newTestHub(t, 10)
	sink := &recordingSink{}
	_, err := hub.Subscribe(sink)
	require.NoError(t, err)

	hub.Close()
	require.True(t, sink.closed)
	require.Equal(t, 0, hub.Count())
	_, err = hub.Subscribe(&recordingSink{})
	require.ErrorContains(t, err, "closed")
}

func TestHubConcurrentSubscribeSeesConsistentSnapshots(t *testing.T) {
	store, hub := newTestHub(t, 50)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			store.Append(conversation.SpeakerA, fmt.Sprint(i), conversation.KindAI)
		}
		cancel()
	}()

	var sinks []*recordingSink
	for len(sinks) < 200 && ctx.Err() == nil {
		sink := &recordingSink{}
		_, err := hub.Subscribe(sink)
		require.NoError(t, err)
		sinks = append(sinks, sink)
	}
	wg.Wait()

	for _, sink := range sinks {
		events := sink.snapshot()
		for i := 1; i < len(events); i++ {
			require.Equal(t, events[i-1].TotalCount+1, events[i].TotalCount)
		}
	}
}

func TestHubPublishesStateOnRemove(t *testing.T) {
	store, hub := newTestHub(t, 10)
	store.Append(conversation.SpeakerA, "Hello!", conversation.KindAI)
	pending := store.Append(conversation.SpeakerB, conversation.PendingContent, conversation.KindAI)

	sink := &recordingSink{}
	_, err := hub.Subscribe(sink)
	require.NoError(t, err)

	require.True(t, store.Remove(pending.ID))
	events := sink.snapshot()
	require.Len(t, events, 2)
	last := events[1]
	require.Equal(t, EventState, last.Type)
	require.Nil(t, last.Turn)
	require.Len(t, last.Log, 1)
	require.Equal(t, "Hello!", last.Log[0].Content)
	require.Equal(t, 2, last.TotalCount)

	require.False(t, store.Remove(pending.ID))
	require.Len(t, sink.snapshot(), 2)
}

func TestHubReplaceSendsSingleMessage(t *testing.T) {
	store, hub := newTestHub(t, 10)
	pending := store.Append(conversation.SpeakerA, conversation.PendingContent, conversation.KindAI)

	sink := &recordingSink{}
	_, err := hub.Subscribe(sink)
	require.NoError(t, err)

	store.Replace(pending.ID, conversation.SpeakerA, "done", conversation.KindAI)
	events := sink.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, EventMessage, events[1].Type)
	require.Len(t, events[1].Log, 1)
	require.Equal(t, "done", events[1].Log[0].Content)
}
