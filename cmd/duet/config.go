package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/duet/pkg/broadcast"
	"github.com/go-go-golems/duet/pkg/conversation"
	"github.com/go-go-golems/duet/pkg/inference"
	"github.com/go-go-golems/duet/pkg/redisstream"
	"github.com/go-go-golems/duet/pkg/scheduler"
	"github.com/go-go-golems/duet/pkg/webchat"
)

const (
	providerGenAI    = "genai"
	providerGeppetto = "geppetto"
	providerScripted = "scripted"

	defaultAddr               = ":3000"
	defaultContextTokenBudget = 2048
)

// ServeSettings mirrors the serve flags. Durations stay strings until
// toConfig parses them.
type ServeSettings struct {
	Addr               string `glazed:"addr"`
	Window             int    `glazed:"window"`
	MinDelay           string `glazed:"min-delay"`
	MaxDelay           string `glazed:"max-delay"`
	FollowUpDelay      string `glazed:"follow-up-delay"`
	Heartbeat          string `glazed:"heartbeat"`
	SinkBuffer         int    `glazed:"sink-buffer"`
	Autostart          bool   `glazed:"autostart"`
	Provider           string `glazed:"provider"`
	Model              string `glazed:"model"`
	APIKey             string `glazed:"api-key"`
	ProviderTimeout    string `glazed:"provider-timeout"`
	ContextLimit       int    `glazed:"context-limit"`
	ContextTokenBudget int    `glazed:"context-token-budget"`
	Script             string `glazed:"script"`
}

func defaultServeSettings() ServeSettings {
	return ServeSettings{
		Addr:               defaultAddr,
		Window:             conversation.DefaultWindow,
		MinDelay:           scheduler.DefaultMinDelay.String(),
		MaxDelay:           scheduler.DefaultMaxDelay.String(),
		FollowUpDelay:      scheduler.DefaultFollowUpDelay.String(),
		Heartbeat:          webchat.DefaultHeartbeat.String(),
		SinkBuffer:         broadcast.DefaultQueueSize,
		Autostart:          true,
		Model:              inference.DefaultModel,
		ProviderTimeout:    inference.DefaultTimeout.String(),
		ContextLimit:       inference.DefaultContextLimit,
		ContextTokenBudget: defaultContextTokenBudget,
	}
}

// Config is the validated runtime configuration of the serve command.
type Config struct {
	Addr               string
	Window             int
	MinDelay           time.Duration
	MaxDelay           time.Duration
	FollowUpDelay      time.Duration
	Heartbeat          time.Duration
	SinkBuffer         int
	Autostart          bool
	Provider           string
	Model              string
	APIKey             string
	ProviderTimeout    time.Duration
	ContextLimit       int
	ContextTokenBudget int
	Script             string
	Redis              redisstream.Settings
}

// newEnvViper resolves the conventional variables that do not carry the
// DUET_ prefix.
func newEnvViper() *viper.Viper {
	v := viper.New()
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("gemini-api-key", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	return v
}

func (s ServeSettings) toConfig(redis redisstream.Settings, env *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:               strings.TrimSpace(s.Addr),
		Window:             s.Window,
		SinkBuffer:         s.SinkBuffer,
		Autostart:          s.Autostart,
		Provider:           strings.ToLower(strings.TrimSpace(s.Provider)),
		Model:              strings.TrimSpace(s.Model),
		APIKey:             strings.TrimSpace(s.APIKey),
		ContextLimit:       s.ContextLimit,
		ContextTokenBudget: s.ContextTokenBudget,
		Script:             s.Script,
		Redis:              redis,
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"min-delay", s.MinDelay, &cfg.MinDelay},
		{"max-delay", s.MaxDelay, &cfg.MaxDelay},
		{"follow-up-delay", s.FollowUpDelay, &cfg.FollowUpDelay},
		{"heartbeat", s.Heartbeat, &cfg.Heartbeat},
		{"provider-timeout", s.ProviderTimeout, &cfg.ProviderTimeout},
	} {
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse --%s", d.name)
		}
		*d.dst = v
	}

	if env != nil {
		if port := strings.TrimSpace(env.GetString("port")); port != "" && (cfg.Addr == "" || cfg.Addr == defaultAddr) {
			cfg.Addr = ":" + port
		}
		if cfg.APIKey == "" {
			cfg.APIKey = strings.TrimSpace(env.GetString("gemini-api-key"))
		}
	}
	if cfg.Provider == "" {
		cfg.Provider = providerScripted
		if cfg.APIKey != "" {
			cfg.Provider = providerGenAI
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Provider {
	case providerGenAI:
		if c.APIKey == "" {
			return errors.New("genai provider needs an API key (--api-key or GEMINI_API_KEY)")
		}
	case providerGeppetto, providerScripted:
	default:
		return errors.Errorf("unknown provider %q", c.Provider)
	}
	if c.Addr == "" {
		return errors.New("listen address is empty")
	}
	if c.Window <= 0 {
		return errors.New("window must be positive")
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return errors.Errorf("invalid delay range [%s, %s]", c.MinDelay, c.MaxDelay)
	}
	if c.ContextTokenBudget < 0 {
		return errors.New("context token budget must not be negative")
	}
	return c.Redis.Validate()
}
