package inference

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/duet/pkg/conversation"
)

// DefaultGreeting opens an empty conversation.
const DefaultGreeting = "Hello!"

// Script holds the tunable text of a conversation, usually loaded from YAML:
//
//	greeting: Hello!
//	instruction: Keep it short.
//	fallback: Sorry, lost my train of thought.
//	replies:
//	  AI_A: ["...", "..."]
//	  AI_B: ["..."]
type Script struct {
	Greeting    string                            `yaml:"greeting"`
	Instruction string                            `yaml:"instruction"`
	Fallback    string                            `yaml:"fallback"`
	Replies     map[conversation.Speaker][]string `yaml:"replies"`
}

func DefaultScript() Script {
	return Script{
		Greeting:    DefaultGreeting,
		Instruction: DefaultInstruction,
		Fallback:    DefaultFallback,
		Replies: map[conversation.Speaker][]string{
			conversation.SpeakerA: {
				"That's an interesting point. What made you think of it?",
				"I see it a little differently, but go on.",
				"Fair enough. Where do we take this next?",
			},
			conversation.SpeakerB: {
				"Honestly, I was just wondering the same thing.",
				"Let me push back on that a bit.",
				"Good question. I think it depends on who you ask.",
			},
		},
	}
}

// LoadScript reads a YAML script. Fields missing from the file keep their defaults.
func LoadScript(path string) (Script, error) {
	s := DefaultScript()
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrapf(err, "read script %s", path)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (Script, error) {
	def := DefaultScript()
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return def, errors.Wrap(err, "parse script")
	}
	if strings.TrimSpace(s.Greeting) == "" {
		s.Greeting = def.Greeting
	}
	if strings.TrimSpace(s.Instruction) == "" {
		s.Instruction = def.Instruction
	}
	if strings.TrimSpace(s.Fallback) == "" {
		s.Fallback = def.Fallback
	}
	if len(s.Replies) == 0 {
		s.Replies = def.Replies
	}
	for speaker := range s.Replies {
		if !speaker.IsAutomatic() {
			return def, errors.Errorf("script replies: unknown speaker %q", speaker)
		}
	}
	return s, nil
}
