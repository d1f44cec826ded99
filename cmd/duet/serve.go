package main

import (
	"context"
	"time"

	"github.com/go-go-golems/geppetto/pkg/inference/engine"
	"github.com/go-go-golems/geppetto/pkg/inference/engine/factory"
	geppettosections "github.com/go-go-golems/geppetto/pkg/sections"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/duet/pkg/broadcast"
	"github.com/go-go-golems/duet/pkg/conversation"
	"github.com/go-go-golems/duet/pkg/inference"
	"github.com/go-go-golems/duet/pkg/redisstream"
	"github.com/go-go-golems/duet/pkg/scheduler"
	"github.com/go-go-golems/duet/pkg/webchat"
)

// engineFactory builds the geppetto engine on demand so that the geppetto
// sections are only consulted when --provider geppetto is selected.
type engineFactory func() (engine.Engine, error)

type serveFunc func(ctx context.Context, cfg Config, engines engineFactory) error

// ServeCommand serves the dialogue feed over HTTP, SSE and WebSocket.
type ServeCommand struct {
	*cmds.CommandDescription
	serve serveFunc
}

var _ cmds.BareCommand = &ServeCommand{}

func NewServeCommand(serve serveFunc) (*ServeCommand, error) {
	geSections, err := geppettosections.CreateGeppettoSections()
	if err != nil {
		return nil, errors.Wrap(err, "create geppetto sections")
	}
	redisSection, err := redisstream.NewParameterLayer()
	if err != nil {
		return nil, errors.Wrap(err, "create redis section")
	}
	d := defaultServeSettings()
	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Serve the dialogue feed over HTTP, SSE and WebSocket"),
		cmds.WithFlags(
			fields.New("addr", fields.TypeString, fields.WithDefault(d.Addr),
				fields.WithHelp("HTTP listen address (PORT is honored when left at the default)")),
			fields.New("window", fields.TypeInteger, fields.WithDefault(d.Window),
				fields.WithHelp("Turns kept in the sliding window")),
			fields.New("min-delay", fields.TypeString, fields.WithDefault(d.MinDelay),
				fields.WithHelp("Minimum delay between automatic turns")),
			fields.New("max-delay", fields.TypeString, fields.WithDefault(d.MaxDelay),
				fields.WithHelp("Maximum delay between automatic turns")),
			fields.New("follow-up-delay", fields.TypeString, fields.WithDefault(d.FollowUpDelay),
				fields.WithHelp("Delay before the reply to a user interjection")),
			fields.New("heartbeat", fields.TypeString, fields.WithDefault(d.Heartbeat),
				fields.WithHelp("Heartbeat interval on live channels (0s disables)")),
			fields.New("sink-buffer", fields.TypeInteger, fields.WithDefault(d.SinkBuffer),
				fields.WithHelp("Events buffered per live channel before it is dropped")),
			fields.New("autostart", fields.TypeBool, fields.WithDefault(d.Autostart),
				fields.WithHelp("Seed the conversation and start live mode at boot")),
			fields.New("provider", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Response provider: genai, geppetto or scripted (default: genai when an API key is set)")),
			fields.New("model", fields.TypeString, fields.WithDefault(d.Model),
				fields.WithHelp("Model name for the genai provider")),
			fields.New("api-key", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Gemini API key for the genai provider (GEMINI_API_KEY is honored)")),
			fields.New("provider-timeout", fields.TypeString, fields.WithDefault(d.ProviderTimeout),
				fields.WithHelp("Upper bound on one generation")),
			fields.New("context-limit", fields.TypeInteger, fields.WithDefault(d.ContextLimit),
				fields.WithHelp("Turns of context handed to the provider")),
			fields.New("context-token-budget", fields.TypeInteger, fields.WithDefault(d.ContextTokenBudget),
				fields.WithHelp("Token budget for the prompt context (0 disables)")),
			fields.New("script", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("YAML script with greeting, instruction, fallback and scripted replies")),
		),
		cmds.WithSections(append(geSections, redisSection)...),
	)
	return &ServeCommand{CommandDescription: desc, serve: serve}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ServeSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode serve settings")
	}
	redis := redisstream.DefaultSettings()
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &redis); err != nil {
		return errors.Wrap(err, "decode redis settings")
	}
	cfg, err := s.toConfig(redis, newEnvViper())
	if err != nil {
		return err
	}
	engines := func() (engine.Engine, error) {
		return factory.NewEngineFromParsedValues(parsed)
	}
	return c.serve(ctx, cfg, engines)
}

func serveMiddlewares(_ *values.Values, cmd *cobra.Command, args []string) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv("DUET",
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

func newServeCobraCommand(serve serveFunc) (*cobra.Command, error) {
	c, err := NewServeCommand(serve)
	if err != nil {
		return nil, err
	}
	return cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(serveMiddlewares))
}

func runServe(ctx context.Context, cfg Config, engines engineFactory) error {
	a, err := buildApp(ctx, cfg, engines)
	if err != nil {
		return err
	}
	defer a.close()
	return a.server.Run(ctx)
}

type app struct {
	store     *conversation.Store
	hub       *broadcast.Hub
	scheduler *scheduler.Scheduler
	router    *webchat.Router
	server    *webchat.Server
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// buildApp wires store, hub, producer, scheduler and HTTP surface. The
// returned app owns its background resources until close.
func buildApp(ctx context.Context, cfg Config, engines engineFactory) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	a.store = conversation.NewStore(cfg.Window)
	hub, err := broadcast.NewHub(broadcast.HubConfig{Store: a.store})
	if err != nil {
		return nil, err
	}
	a.hub = hub
	a.store.SetObserver(hub)

	script, err := inference.LoadScript(cfg.Script)
	if err != nil {
		return nil, err
	}
	provider, err := buildProvider(ctx, cfg, script, engines)
	if err != nil {
		return nil, err
	}

	var counter inference.TokenCounter
	if cfg.ContextTokenBudget > 0 {
		counter, err = inference.NewTiktokenCounter("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	producer, err := inference.NewProducer(inference.ProducerConfig{
		Source:       a.store,
		Provider:     provider,
		ContextLimit: cfg.ContextLimit,
		Instruction:  script.Instruction,
		Fallback:     script.Fallback,
		Timeout:      cfg.ProviderTimeout,
		TokenBudget:  cfg.ContextTokenBudget,
		Counter:      counter,
	})
	if err != nil {
		return nil, err
	}

	followUpCtx, cancelFollowUps := context.WithCancel(context.WithoutCancel(ctx))
	a.closers = append(a.closers, func() error { cancelFollowUps(); return nil })
	a.scheduler, err = scheduler.New(scheduler.Config{
		BaseCtx:       followUpCtx,
		Store:         a.store,
		Generator:     producer,
		Greeting:      script.Greeting,
		MinDelay:      cfg.MinDelay,
		MaxDelay:      cfg.MaxDelay,
		FollowUpDelay: cfg.FollowUpDelay,
	})
	if err != nil {
		return nil, err
	}

	pool := webchat.NewConnectionPool(10 * time.Second)
	streams, err := webchat.NewStreamHub(webchat.StreamHubConfig{
		Hub:       hub,
		Pool:      pool,
		Heartbeat: cfg.Heartbeat,
		QueueSize: cfg.SinkBuffer,
		Init:      a.scheduler,
	})
	if err != nil {
		return nil, err
	}
	a.router, err = webchat.NewRouter(webchat.RouterConfig{
		Service:        a.scheduler,
		Store:          a.store,
		Hub:            hub,
		Streams:        streams,
		ProviderName:   provider.Name(),
		HasProviderKey: cfg.APIKey != "",
	})
	if err != nil {
		return nil, err
	}

	loops := []webchat.Loop{a.scheduler}
	if cfg.Redis.Enabled {
		mirror, err := a.attachMirror(ctx, cfg)
		if err != nil {
			return nil, err
		}
		loops = append(loops, mirror)
	}

	if cfg.Autostart {
		a.scheduler.Initialize()
	}

	a.server, err = webchat.NewServer(webchat.ServerConfig{
		Addr:    cfg.Addr,
		Handler: a.router.Handler(),
		Loops:   loops,
		Lifecycle: webchat.Lifecycle{
			Pause:      a.scheduler.Pause,
			CloseSinks: hub.Close,
			Drain: func() {
				cancelFollowUps()
				a.scheduler.Wait()
			},
		},
		Pool: pool,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", provider.Name()).
		Int("window", cfg.Window).
		Bool("autostart", cfg.Autostart).
		Bool("redis", cfg.Redis.Enabled).
		Msg("duet configured")
	ok = true
	return a, nil
}

func (a *app) attachMirror(ctx context.Context, cfg Config) (*redisstream.Mirror, error) {
	pub, closePub, err := redisstream.BuildPublisher(ctx, cfg.Redis, log.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis mirror")
	}
	a.closers = append(a.closers, closePub)
	mirror, err := redisstream.NewMirror(redisstream.MirrorConfig{
		Publisher: pub,
		Topic:     cfg.Redis.Stream,
		QueueSize: cfg.SinkBuffer,
	})
	if err != nil {
		return nil, err
	}
	if _, err := a.hub.Subscribe(mirror); err != nil {
		return nil, errors.Wrap(err, "subscribe redis mirror")
	}
	return mirror, nil
}

func buildProvider(ctx context.Context, cfg Config, script inference.Script, engines engineFactory) (inference.Provider, error) {
	switch cfg.Provider {
	case providerGenAI:
		p, err := inference.NewGenAIProvider(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case providerGeppetto:
		if engines == nil {
			return nil, errors.New("geppetto provider needs an engine factory")
		}
		eng, err := engines()
		if err != nil {
			return nil, errors.Wrap(err, "build geppetto engine")
		}
		p, err := inference.NewGeppettoProvider(eng, providerGeppetto)
		if err != nil {
			return nil, err
		}
		return p, nil
	case providerScripted:
		return inference.NewScriptedProvider(script.Replies), nil
	default:
		return nil, errors.Errorf("unknown provider %q", cfg.Provider)
	}
}
