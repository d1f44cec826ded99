package inference

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/duet/pkg/conversation"
)

func newTestProducer(t *testing.T, store *conversation.Store, provider Provider, mutate func(*ProducerConfig)) *Producer {
	t.Helper()
	nop := zerolog.Nop()
	cfg := ProducerConfig{Source: store, Provider: provider, Logger: &nop}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewProducer(cfg)
	require.NoError(t, err)
	return p
}

func TestNewProducer_ValidatesRequiredDependencies(t *testing.T) {
	_, err := NewProducer(ProducerConfig{})
	require.ErrorContains(t, err, "context source is nil")

	_, err = NewProducer(ProducerConfig{Source: conversation.NewStore(10)})
	require.ErrorContains(t, err, "provider is nil")

	_, err = NewProducer(ProducerConfig{
		Source:      conversation.NewStore(10),
		Provider:    NewScriptedProvider(nil),
		TokenBudget: 10,
	})
	require.ErrorContains(t, err, "token counter is nil")
}

func TestProducerGenerate_BuildsPromptWithoutOwnTurns(t *testing.T) {
	store := conversation.NewStore(10)
	store.Append(conversation.SpeakerA, "Hello!", conversation.KindAI)
	store.Append(conversation.SpeakerB, "Hi there.", conversation.KindAI)
	store.Append(conversation.SpeakerUser, "what about cats?", conversation.KindUser)

	var got Request
	p := newTestProducer(t, store, ProviderFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "  Cats are great.  ", nil
	}), nil)

	reply := p.Generate(context.Background(), conversation.SpeakerB)
	require.Equal(t, "Cats are great.", reply)
	require.Equal(t, conversation.SpeakerB, got.Speaker)
	require.Equal(t, "AI_A: Hello!\nUSER: what about cats?\n"+DefaultInstruction, got.Prompt)
	require.Len(t, got.Context, 2)
}

func TestProducerGenerate_ContextLimit(t *testing.T) {
	store := conversation.NewStore(50)
	for i := 0; i < 20; i++ {
		store.Append(conversation.SpeakerA, "a", conversation.KindAI)
	}
	var n int
	p := newTestProducer(t, store, ProviderFunc(func(_ context.Context, req Request) (string, error) {
		n = len(req.Context)
		return "ok", nil
	}), nil)
	p.Generate(context.Background(), conversation.SpeakerB)
	require.Equal(t, DefaultContextLimit, n)
}

func TestProducerGenerate_FallbackOnFailure(t *testing.T) {
	store := conversation.NewStore(10)
	cases := map[string]ProviderFunc{
		"error": func(context.Context, Request) (string, error) {
			return "", errors.New("boom")
		},
		"empty": func(context.Context, Request) (string, error) {
			return "   ", nil
		},
		"timeout": func(ctx context.Context, _ Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	for name, provider := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestProducer(t, store, provider, func(cfg *ProducerConfig) {
				cfg.Timeout = 20 * time.Millisecond
			})
			require.Equal(t, DefaultFallback, p.Generate(context.Background(), conversation.SpeakerA))
		})
	}
}

func TestProducerGenerate_CustomFallbackAndInstruction(t *testing.T) {
	store := conversation.NewStore(10)
	var prompt string
	p := newTestProducer(t, store, ProviderFunc(func(_ context.Context, req Request) (string, error) {
		prompt = req.Prompt
		return "", errors.New("down")
	}), func(cfg *ProducerConfig) {
		cfg.Instruction = "Answer in one word."
		cfg.Fallback = "..hm"
	})
	require.Equal(t, "..hm", p.Generate(context.Background(), conversation.SpeakerA))
	require.Equal(t, "Answer in one word.", prompt)
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestProducerGenerate_TrimsOldestTurnsToBudget(t *testing.T) {
	store := conversation.NewStore(10)
	store.Append(conversation.SpeakerA, "one two three four", conversation.KindAI)
	store.Append(conversation.SpeakerA, "five", conversation.KindAI)

	var got Request
	p := newTestProducer(t, store, ProviderFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "ok", nil
	}), func(cfg *ProducerConfig) {
		cfg.Instruction = "go"
		cfg.TokenBudget = 4
		cfg.Counter = wordCounter{}
	})
	p.Generate(context.Background(), conversation.SpeakerB)
	require.Len(t, got.Context, 1)
	require.Equal(t, "AI_A: five\ngo", got.Prompt)
}

func TestBuildPrompt_EmptyContext(t *testing.T) {
	require.Equal(t, "respond", BuildPrompt(nil, "respond"))
}
