package redisstream

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BuildPublisher connects to Redis and returns a Redis Streams publisher.
// Closing the publisher does not close the client; the returned closer does both.
func BuildPublisher(ctx context.Context, s Settings, logger zerolog.Logger) (message.Publisher, func() error, error) {
	if !s.Enabled {
		return nil, nil, errors.New("redis mirror is disabled")
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrapf(err, "ping redis at %s", s.Addr)
	}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "create redis stream publisher")
	}

	closer := func() error {
		pubErr := pub.Close()
		clientErr := client.Close()
		if pubErr != nil {
			return errors.Wrap(pubErr, "close publisher")
		}
		return errors.Wrap(clientErr, "close redis client")
	}
	return pub, closer, nil
}
