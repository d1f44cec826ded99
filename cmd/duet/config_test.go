package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/geppetto/pkg/inference/engine"
	"github.com/go-go-golems/geppetto/pkg/turns"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/duet/pkg/conversation"
	"github.com/go-go-golems/duet/pkg/inference"
	"github.com/go-go-golems/duet/pkg/redisstream"
)

// unsetEnv removes keys for the duration of the test. Empty values are not
// enough because the glazed env source parses whatever is present.
func unsetEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "GEMINI_API_KEY", "GOOGLE_API_KEY", "DUET_API_KEY", "DUET_ADDR", "DUET_PROVIDER", "DUET_WINDOW"} {
		if v, ok := os.LookupEnv(k); ok {
			require.NoError(t, os.Unsetenv(k))
			t.Cleanup(func() { _ = os.Setenv(k, v) })
		}
	}
}

func runServeCommand(t *testing.T, args ...string) Config {
	t.Helper()
	var got Config
	called := false
	cmd, err := newServeCobraCommand(func(_ context.Context, cfg Config, engines engineFactory) error {
		require.NotNil(t, engines)
		got = cfg
		called = true
		return nil
	})
	require.NoError(t, err)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	require.NoError(t, cmd.Execute())
	require.True(t, called)
	return got
}

func settingsConfig(t *testing.T, s ServeSettings, redis redisstream.Settings) (Config, error) {
	t.Helper()
	unsetEnv(t)
	return s.toConfig(redis, newEnvViper())
}

func TestServeCommand_Defaults(t *testing.T) {
	unsetEnv(t)
	cfg := runServeCommand(t)
	require.Equal(t, ":3000", cfg.Addr)
	require.Equal(t, conversation.DefaultWindow, cfg.Window)
	require.Equal(t, 5*time.Second, cfg.MinDelay)
	require.Equal(t, 10*time.Second, cfg.MaxDelay)
	require.Equal(t, 2*time.Second, cfg.FollowUpDelay)
	require.True(t, cfg.Autostart)
	require.Equal(t, providerScripted, cfg.Provider)
	require.Equal(t, defaultContextTokenBudget, cfg.ContextTokenBudget)
	require.False(t, cfg.Redis.Enabled)
	require.Equal(t, redisstream.DefaultStream, cfg.Redis.Stream)
}

func TestServeCommand_FlagsAndEnvironment(t *testing.T) {
	unsetEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("DUET_WINDOW", "7")

	cfg := runServeCommand(t,
		"--min-delay", "1s", "--max-delay", "2s",
		"--redis-enabled", "--redis-stream", "feed.copy",
	)
	require.Equal(t, ":8081", cfg.Addr)
	require.Equal(t, "k", cfg.APIKey)
	require.Equal(t, providerGenAI, cfg.Provider)
	require.Equal(t, 7, cfg.Window)
	require.Equal(t, time.Second, cfg.MinDelay)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "feed.copy", cfg.Redis.Stream)
}

func TestServeCommand_GeppettoNeedsNoKey(t *testing.T) {
	unsetEnv(t)
	cfg := runServeCommand(t, "--provider", "geppetto")
	require.Equal(t, providerGeppetto, cfg.Provider)
	require.Empty(t, cfg.APIKey)
}

func TestServeSettings_ExplicitAddrBeatsPort(t *testing.T) {
	s := defaultServeSettings()
	s.Addr = "127.0.0.1:9000"
	unsetEnv(t)
	t.Setenv("PORT", "8081")
	cfg, err := s.toConfig(redisstream.DefaultSettings(), newEnvViper())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
}

func TestServeSettings_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ServeSettings, *redisstream.Settings)
		want   string
	}{
		{"genai without key", func(s *ServeSettings, _ *redisstream.Settings) { s.Provider = "genai" }, "API key"},
		{"unknown provider", func(s *ServeSettings, _ *redisstream.Settings) { s.Provider = "carrier-pigeon" }, "unknown provider"},
		{"inverted delays", func(s *ServeSettings, _ *redisstream.Settings) { s.MinDelay, s.MaxDelay = "3s", "1s" }, "delay range"},
		{"bad duration", func(s *ServeSettings, _ *redisstream.Settings) { s.Heartbeat = "often" }, "--heartbeat"},
		{"empty stream", func(_ *ServeSettings, r *redisstream.Settings) { r.Enabled, r.Stream = true, "" }, "stream name is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, r := defaultServeSettings(), redisstream.DefaultSettings()
			tc.mutate(&s, &r)
			_, err := settingsConfig(t, s, r)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

type replyEngine struct{ reply string }

func (e *replyEngine) RunInference(_ context.Context, t *turns.Turn) (*turns.Turn, error) {
	turns.AppendBlock(t, turns.NewAssistantTextBlock(e.reply))
	return t, nil
}

func TestBuildProvider_Geppetto(t *testing.T) {
	cfg := Config{Provider: providerGeppetto}
	ctx := context.Background()

	p, err := buildProvider(ctx, cfg, inference.DefaultScript(), func() (engine.Engine, error) {
		return &replyEngine{reply: "from the engine"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "geppetto", p.Name())
	out, err := p.Complete(ctx, inference.Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "from the engine", out)

	_, err = buildProvider(ctx, cfg, inference.DefaultScript(), func() (engine.Engine, error) {
		return nil, errors.New("no ai-engine configured")
	})
	require.ErrorContains(t, err, "no ai-engine configured")

	_, err = buildProvider(ctx, cfg, inference.DefaultScript(), nil)
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	root, err := newRootCommand()
	require.NoError(t, err)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	require.Equal(t, version+"\n", out.String())
}

func TestIsTerminal(t *testing.T) {
	require.False(t, isTerminal(&bytes.Buffer{}))
}

func TestBuildApp_ScriptedFeed(t *testing.T) {
	script := filepath.Join(t.TempDir(), "duet.yaml")
	require.NoError(t, os.WriteFile(script, []byte("greeting: Good evening.\n"), 0o600))

	s := defaultServeSettings()
	s.Script = script
	s.ContextTokenBudget = 0
	s.Addr = "127.0.0.1:0"
	cfg, err := settingsConfig(t, s, redisstream.DefaultSettings())
	require.NoError(t, err)
	a, err := buildApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.close()

	require.Equal(t, 1, a.store.Len())
	require.Equal(t, "Good evening.", a.store.Recent(0)[0].Content)

	rec := httptest.NewRecorder()
	a.router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/step", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, a.store.Len())
	require.Equal(t, conversation.SpeakerB, a.store.Recent(0)[1].Speaker)
}
