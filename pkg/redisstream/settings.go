package redisstream

import (
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
)

const (
	SectionSlug   = "redis"
	DefaultAddr   = "localhost:6379"
	DefaultStream = "duet.events"
)

// Settings holds the Redis Streams mirror configuration.
type Settings struct {
	Enabled bool   `glazed:"redis-enabled"`
	Addr    string `glazed:"redis-addr"`
	Stream  string `glazed:"redis-stream"`
}

func DefaultSettings() Settings {
	return Settings{Addr: DefaultAddr, Stream: DefaultStream}
}

// NewParameterLayer returns the section definition for the Redis mirror flags.
func NewParameterLayer() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Redis Streams event mirror",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithHelp("Mirror every feed event to a Redis stream"),
				fields.WithDefault(false)),
			fields.New("redis-addr", fields.TypeString,
				fields.WithHelp("Redis address host:port"),
				fields.WithDefault(DefaultAddr)),
			fields.New("redis-stream", fields.TypeString,
				fields.WithHelp("Redis stream that receives mirrored events"),
				fields.WithDefault(DefaultStream)),
		),
	)
}

// Validate checks an enabled configuration. Disabled settings are always valid.
func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("redis address is empty")
	}
	if strings.TrimSpace(s.Stream) == "" {
		return errors.New("redis stream name is empty")
	}
	return nil
}
