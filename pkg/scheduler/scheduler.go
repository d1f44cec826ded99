package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/duet/pkg/conversation"
)

const (
	DefaultMinDelay      = 5 * time.Second
	DefaultMaxDelay      = 10 * time.Second
	DefaultFollowUpDelay = 2 * time.Second
	DefaultGreeting      = "Hello!"
)

// Generator produces the reply text for a speaker. It must not fail.
type Generator interface {
	Generate(ctx context.Context, speaker conversation.Speaker) string
}

type GeneratorFunc func(ctx context.Context, speaker conversation.Speaker) string

func (f GeneratorFunc) Generate(ctx context.Context, speaker conversation.Speaker) string {
	return f(ctx, speaker)
}

type Config struct {
	// BaseCtx bounds follow-up timers started by InjectUserTurn.
	BaseCtx       context.Context
	Store         *conversation.Store
	Generator     Generator
	Greeting      string
	MinDelay      time.Duration
	MaxDelay      time.Duration
	FollowUpDelay time.Duration
	// Jitter picks the delay before the next automatic turn. Defaults to a
	// uniform draw from [lo, hi).
	Jitter func(lo, hi time.Duration) time.Duration
	Logger *zerolog.Logger
}

// Status is a point-in-time view of the scheduler flags.
type Status struct {
	LiveMode    bool                 `json:"liveMode"`
	Busy        bool                 `json:"busy"`
	NextSpeaker conversation.Speaker `json:"nextSpeaker"`
}

// Scheduler alternates the two automatic speakers on a jittered schedule and
// guarantees at most one generation in flight.
type Scheduler struct {
	baseCtx   context.Context
	store     *conversation.Store
	generator Generator
	greeting  string
	minDelay  time.Duration
	maxDelay  time.Duration
	followUp  time.Duration
	jitter    func(lo, hi time.Duration) time.Duration
	logger    zerolog.Logger

	busy atomic.Bool

	mu          sync.Mutex
	next        conversation.Speaker
	live        bool
	initialized bool

	wake      chan struct{}
	followUps sync.WaitGroup
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.BaseCtx == nil {
		return nil, errors.New("scheduler base context is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("scheduler store is nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("scheduler generator is nil")
	}
	s := &Scheduler{
		baseCtx:   cfg.BaseCtx,
		store:     cfg.Store,
		generator: cfg.Generator,
		greeting:  cfg.Greeting,
		minDelay:  cfg.MinDelay,
		maxDelay:  cfg.MaxDelay,
		followUp:  cfg.FollowUpDelay,
		jitter:    cfg.Jitter,
		next:      conversation.SpeakerB,
		wake:      make(chan struct{}, 1),
	}
	if s.greeting == "" {
		s.greeting = DefaultGreeting
	}
	if s.minDelay <= 0 {
		s.minDelay = DefaultMinDelay
	}
	if s.maxDelay <= 0 {
		s.maxDelay = DefaultMaxDelay
	}
	if s.maxDelay < s.minDelay {
		return nil, errors.Errorf("scheduler max delay %s is below min delay %s", s.maxDelay, s.minDelay)
	}
	if s.followUp <= 0 {
		s.followUp = DefaultFollowUpDelay
	}
	if s.jitter == nil {
		s.jitter = uniformJitter
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	s.logger = logger.With().Str("component", "scheduler").Logger()
	return s, nil
}

// Initialize seeds an empty conversation with the greeting from AI_A and arms
// live mode. Only the first call can seed; later calls leave the log alone.
// It reports whether this call seeded the log.
func (s *Scheduler) Initialize() bool {
	s.mu.Lock()
	seeded := false
	if !s.initialized {
		s.initialized = true
		if s.store.Len() == 0 {
			s.store.Append(conversation.SpeakerA, s.greeting, conversation.KindAI)
			s.next = conversation.SpeakerB
			seeded = true
		}
	}
	wasLive := s.live
	s.live = true
	s.mu.Unlock()

	if seeded {
		s.logger.Info().Str("greeting", s.greeting).Msg("conversation seeded")
	}
	if !wasLive {
		s.logger.Info().Msg("live mode armed")
		s.signalWake()
	}
	return seeded
}

// Pause disarms live mode. A running loop stops scheduling turns until the
// next Initialize.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	wasLive := s.live
	s.live = false
	s.mu.Unlock()
	if wasLive {
		s.logger.Info().Msg("live mode paused")
	}
}

func (s *Scheduler) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Scheduler) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Scheduler) Busy() bool { return s.busy.Load() }

func (s *Scheduler) NextSpeaker() conversation.Speaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{LiveMode: s.live, Busy: s.busy.Load(), NextSpeaker: s.next}
}

// RequestNextTurn produces one automatic turn. When a generation is already in
// flight it returns (nil, nil) at once; callers retry later. The placeholder is
// retracted, the speaker flipped and the busy flag released on every exit
// path. A panic inside the cycle is recovered and returned as an error.
func (s *Scheduler) RequestNextTurn(ctx context.Context) (turn *conversation.Turn, err error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, nil
	}

	speaker := s.NextSpeaker()
	placeholderID := ""
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("speaker", string(speaker)).Msg("turn cycle failed")
			turn = nil
			err = errors.Errorf("turn cycle failed: %v", r)
		}
		if placeholderID != "" {
			s.store.Remove(placeholderID)
		}
		s.mu.Lock()
		s.next = speaker.Other()
		s.mu.Unlock()
		s.busy.Store(false)
	}()

	placeholder := s.store.Append(speaker, conversation.PendingContent, conversation.KindAI)
	placeholderID = placeholder.ID

	// Generation is never cancelled once started; the producer's own timeout
	// bounds it.
	reply := s.generator.Generate(context.WithoutCancel(ctx), speaker)

	t := s.store.Replace(placeholderID, speaker, reply, conversation.KindAI)
	placeholderID = ""

	s.logger.Debug().
		Str("speaker", string(speaker)).
		Str("turn_id", t.ID).
		Dur("elapsed", time.Since(start)).
		Msg("turn settled")
	return &t, nil
}

// InjectUserTurn appends a user turn right away, regardless of any generation
// in flight, and schedules a follow-up automatic turn after the follow-up
// delay. The follow-up obeys the busy gate and may silently do nothing.
func (s *Scheduler) InjectUserTurn(content string) conversation.Turn {
	t := s.store.Append(conversation.SpeakerUser, content, conversation.KindUser)
	s.logger.Info().Str("turn_id", t.ID).Msg("user turn injected")
	s.scheduleFollowUp()
	return t
}

func (s *Scheduler) scheduleFollowUp() {
	s.followUps.Add(1)
	go func() {
		defer s.followUps.Done()
		timer := time.NewTimer(s.followUp)
		defer timer.Stop()
		select {
		case <-s.baseCtx.Done():
			return
		case <-timer.C:
		}
		turn, err := s.RequestNextTurn(s.baseCtx)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Msg("follow-up turn failed")
		case turn == nil:
			s.logger.Debug().Msg("follow-up skipped, generation in flight")
		}
	}()
}

// Run drives the live schedule until ctx is done. Each iteration waits for
// live mode, sleeps a jittered delay and requests one turn.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	s.logger.Info().Dur("min_delay", s.minDelay).Dur("max_delay", s.maxDelay).Msg("scheduler loop started")
	defer s.logger.Info().Msg("scheduler loop stopped")

	for {
		if !s.Live() {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}

		timer := time.NewTimer(s.jitter(s.minDelay, s.maxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if !s.Live() {
			continue
		}

		turn, err := s.RequestNextTurn(ctx)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Msg("scheduled turn failed")
		case turn == nil:
			s.logger.Debug().Msg("scheduled turn skipped, generation in flight")
		}
	}
}

// Wait blocks until every pending follow-up has finished.
func (s *Scheduler) Wait() {
	s.followUps.Wait()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func uniformJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
