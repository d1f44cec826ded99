package inference

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/duet/pkg/conversation"
)

// ScriptedProvider cycles through canned replies per speaker. It needs no
// network access and backs the feed when no API key is configured.
type ScriptedProvider struct {
	mu      sync.Mutex
	replies map[conversation.Speaker][]string
	next    map[conversation.Speaker]int
}

func NewScriptedProvider(replies map[conversation.Speaker][]string) *ScriptedProvider {
	cp := make(map[conversation.Speaker][]string, len(replies))
	for k, v := range replies {
		cp[k] = append([]string(nil), v...)
	}
	return &ScriptedProvider{replies: cp, next: map[conversation.Speaker]int{}}
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := p.replies[req.Speaker]
	if len(lines) == 0 {
		return "", errors.Errorf("no scripted replies for %s", req.Speaker)
	}
	i := p.next[req.Speaker]
	p.next[req.Speaker] = (i + 1) % len(lines)
	return lines[i], nil
}
