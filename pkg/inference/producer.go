package inference

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/duet/pkg/conversation"
)

const (
	DefaultInstruction  = "Here is the conversation history. Please respond naturally to continue the conversation. Keep it brief (1-2 sentences)."
	DefaultFallback     = "I'm having trouble responding right now."
	DefaultContextLimit = 10
	DefaultTimeout      = 30 * time.Second
)

// Request is what a provider receives for one reply.
type Request struct {
	Speaker conversation.Speaker
	Prompt  string
	Context []conversation.Turn
}

// Provider turns a prompt into reply text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Name() string { return "func" }

func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ContextSource supplies the turns a speaker should answer.
type ContextSource interface {
	ContextFor(exclude conversation.Speaker, limit int) []conversation.Turn
}

type ProducerConfig struct {
	Source       ContextSource
	Provider     Provider
	ContextLimit int
	Instruction  string
	Fallback     string
	Timeout      time.Duration
	// TokenBudget caps the prompt size; zero disables trimming.
	TokenBudget int
	Counter     TokenCounter
	Logger      *zerolog.Logger
}

// Producer builds prompts from recent context and absorbs provider failures
// into a fixed fallback reply.
type Producer struct {
	source       ContextSource
	provider     Provider
	contextLimit int
	instruction  string
	fallback     string
	timeout      time.Duration
	tokenBudget  int
	counter      TokenCounter
	logger       zerolog.Logger
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if cfg.Source == nil {
		return nil, errors.New("producer context source is nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("producer provider is nil")
	}
	if cfg.TokenBudget > 0 && cfg.Counter == nil {
		return nil, errors.New("producer token counter is nil")
	}
	p := &Producer{
		source:       cfg.Source,
		provider:     cfg.Provider,
		contextLimit: cfg.ContextLimit,
		instruction:  strings.TrimSpace(cfg.Instruction),
		fallback:     strings.TrimSpace(cfg.Fallback),
		timeout:      cfg.Timeout,
		tokenBudget:  cfg.TokenBudget,
		counter:      cfg.Counter,
	}
	if p.contextLimit <= 0 {
		p.contextLimit = DefaultContextLimit
	}
	if p.instruction == "" {
		p.instruction = DefaultInstruction
	}
	if p.fallback == "" {
		p.fallback = DefaultFallback
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	p.logger = logger.With().Str("component", "producer").Str("provider", cfg.Provider.Name()).Logger()
	return p, nil
}

func (p *Producer) Fallback() string { return p.fallback }

// Generate returns the reply for speaker. It never fails: any provider error,
// timeout or empty reply yields the fallback text.
func (p *Producer) Generate(ctx context.Context, speaker conversation.Speaker) string {
	turns := p.source.ContextFor(speaker, p.contextLimit)
	turns = p.fitBudget(turns)
	req := Request{
		Speaker: speaker,
		Prompt:  BuildPrompt(turns, p.instruction),
		Context: turns,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := p.provider.Complete(callCtx, req)
	text = strings.TrimSpace(text)
	if err == nil && (text == "" || text == conversation.PendingContent) {
		err = errors.Errorf("provider returned an unusable reply %q", text)
	}
	if err != nil {
		p.logger.Warn().Err(err).
			Str("speaker", string(speaker)).
			Dur("elapsed", time.Since(start)).
			Msg("generation failed, using fallback reply")
		return p.fallback
	}
	p.logger.Debug().
		Str("speaker", string(speaker)).
		Int("context_turns", len(turns)).
		Dur("elapsed", time.Since(start)).
		Msg("generated reply")
	return text
}

// fitBudget drops the oldest turns until the rendered prompt fits the token budget.
func (p *Producer) fitBudget(turns []conversation.Turn) []conversation.Turn {
	if p.tokenBudget <= 0 || p.counter == nil {
		return turns
	}
	for len(turns) > 0 && p.counter.Count(BuildPrompt(turns, p.instruction)) > p.tokenBudget {
		turns = turns[1:]
	}
	return turns
}

// BuildPrompt renders turns as "SPEAKER: content" lines followed by the instruction.
func BuildPrompt(turns []conversation.Turn, instruction string) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString(instruction)
	return b.String()
}
