package redisstream

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/duet/pkg/broadcast"
)

// MetadataType carries the event type on every mirrored message.
const MetadataType = "type"

type MirrorConfig struct {
	Publisher message.Publisher
	Topic     string
	QueueSize int
	Logger    *zerolog.Logger
}

// Mirror is a broadcast sink that republishes every event to a watermill
// topic. Accept only enqueues; Run does the publishing. A publish failure
// closes the mirror, which makes the hub drop it on the next event.
type Mirror struct {
	queue  *broadcast.Queue
	pub    message.Publisher
	topic  string
	logger zerolog.Logger
}

func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("mirror publisher is nil")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mirror topic is empty")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Mirror{
		queue:  broadcast.NewQueue(cfg.QueueSize),
		pub:    cfg.Publisher,
		topic:  cfg.Topic,
		logger: logger.With().Str("component", "redisstream").Str("topic", cfg.Topic).Logger(),
	}, nil
}

func (m *Mirror) Accept(ev broadcast.Event) error { return m.queue.Accept(ev) }

func (m *Mirror) Close() { m.queue.Close() }

func (m *Mirror) Done() <-chan struct{} { return m.queue.Done() }

// Run publishes queued events until ctx ends or the mirror is closed. It
// never fails the caller: mirror errors are logged and end the mirror only.
func (m *Mirror) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	for {
		select {
		case <-ctx.Done():
			m.queue.Close()
			return nil
		case <-m.queue.Done():
			m.drain()
			return nil
		case ev := <-m.queue.Events():
			if err := m.publish(ev); err != nil {
				m.logger.Error().Err(err).Msg("mirror publish failed, detaching")
				m.queue.Close()
				return nil
			}
		}
	}
}

// drain flushes events that were queued before Close.
func (m *Mirror) drain() {
	for {
		select {
		case ev := <-m.queue.Events():
			if err := m.publish(ev); err != nil {
				m.logger.Warn().Err(err).Msg("mirror drain stopped")
				return
			}
		default:
			return
		}
	}
}

func (m *Mirror) publish(ev broadcast.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataType, string(ev.Type))
	if err := m.pub.Publish(m.topic, msg); err != nil {
		return errors.Wrap(err, "publish event")
	}
	m.logger.Trace().Str("type", string(ev.Type)).Str("uuid", msg.UUID).Msg("event mirrored")
	return nil
}
