package inference

import (
	"context"
	"strings"

	"github.com/go-go-golems/geppetto/pkg/inference/engine"
	"github.com/go-go-golems/geppetto/pkg/turns"
	"github.com/pkg/errors"
)

// GeppettoProvider runs each prompt as a one-block turn through a geppetto
// engine, so any provider geppetto supports (OpenAI, Claude, Gemini, Ollama)
// can drive the dialogue.
type GeppettoProvider struct {
	eng  engine.Engine
	name string
}

func NewGeppettoProvider(eng engine.Engine, name string) (*GeppettoProvider, error) {
	if eng == nil {
		return nil, errors.New("geppetto engine is nil")
	}
	if name == "" {
		name = "geppetto"
	}
	return &GeppettoProvider{eng: eng, name: name}, nil
}

func (p *GeppettoProvider) Name() string { return p.name }

func (p *GeppettoProvider) Complete(ctx context.Context, req Request) (string, error) {
	seed := &turns.Turn{}
	turns.AppendBlock(seed, turns.NewUserTextBlock(req.Prompt))

	out, err := p.eng.RunInference(ctx, seed)
	if err != nil {
		return "", errors.Wrap(err, "geppetto run inference")
	}
	return lastAssistantText(out)
}

// lastAssistantText returns the newest non-empty LLM text block.
func lastAssistantText(t *turns.Turn) (string, error) {
	if t == nil {
		return "", errors.New("geppetto returned no turn")
	}
	for i := len(t.Blocks) - 1; i >= 0; i-- {
		b := t.Blocks[i]
		if b.Kind != turns.BlockKindLLMText {
			continue
		}
		if txt, ok := b.Payload[turns.PayloadKeyText].(string); ok && strings.TrimSpace(txt) != "" {
			return txt, nil
		}
	}
	return "", errors.New("geppetto returned no assistant text")
}
