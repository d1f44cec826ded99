package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/duet/pkg/broadcast"
)

const DefaultHeartbeat = 30 * time.Second

// Initializer lazily starts the conversation when a live channel opens.
type Initializer interface {
	Initialized() bool
	Initialize() bool
}

type StreamHubConfig struct {
	Hub       Broadcaster
	Init      Initializer
	Pool      *ConnectionPool
	Heartbeat time.Duration
	QueueSize int
	Logger    *zerolog.Logger
}

// StreamHub attaches live channels (SSE and websocket) to the broadcast hub.
// Each channel gets its own bounded queue and heartbeat ticker, both released
// when the client goes away.
type StreamHub struct {
	hub       Broadcaster
	init      Initializer
	pool      *ConnectionPool
	heartbeat time.Duration
	queueSize int
	logger    zerolog.Logger
}

func NewStreamHub(cfg StreamHubConfig) (*StreamHub, error) {
	if cfg.Hub == nil {
		return nil, errors.New("stream hub broadcaster is nil")
	}
	pool := cfg.Pool
	if pool == nil {
		pool = NewConnectionPool(10 * time.Second)
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &StreamHub{
		hub:       cfg.Hub,
		init:      cfg.Init,
		pool:      pool,
		heartbeat: cfg.Heartbeat,
		queueSize: cfg.QueueSize,
		logger:    logger.With().Str("component", "webchat").Logger(),
	}, nil
}

func (h *StreamHub) Pool() *ConnectionPool { return h.pool }

// ServeSSE streams every broadcast event as "data: <json>\n\n" frames until
// the client disconnects or the hub drops the channel.
func (h *StreamHub) ServeSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h.ensureInitialized()
	queue := broadcast.NewQueue(h.queueSize)
	handle, err := h.hub.Subscribe(queue)
	if err != nil {
		h.logger.Warn().Err(err).Msg("sse subscribe failed")
		http.Error(w, "live channel unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.hub.Unsubscribe(handle)
	defer queue.Close()

	sseLog := h.logger.With().Str("channel", "sse").Str("sink", string(handle)).Str("remote", req.RemoteAddr).Logger()
	sseLog.Info().Msg("sse connected")
	defer sseLog.Info().Msg("sse disconnected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	tick, stop := h.heartbeatTicker()
	defer stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-queue.Done():
			return
		case ev := <-queue.Events():
			if err := writeSSE(w, ev); err != nil {
				sseLog.Debug().Err(err).Msg("sse write failed")
				return
			}
			flusher.Flush()
		case <-tick:
			if err := h.hub.SendSnapshot(handle, broadcast.EventHeartbeat); err != nil {
				return
			}
		}
	}
}

// AttachWebSocket streams events over conn until the peer goes away. Text
// "ping" is answered with a pong frame and "sync" requests a fresh state
// snapshot. The call blocks for the lifetime of the connection.
func (h *StreamHub) AttachWebSocket(ctx context.Context, conn *websocket.Conn) error {
	if conn == nil {
		return errors.New("websocket connection is nil")
	}
	h.pool.Add(conn)
	defer h.pool.Remove(conn)

	h.ensureInitialized()
	queue := broadcast.NewQueue(h.queueSize)
	handle, err := h.hub.Subscribe(queue)
	if err != nil {
		return errors.Wrap(err, "subscribe websocket")
	}
	defer h.hub.Unsubscribe(handle)
	defer queue.Close()

	wsLog := h.logger.With().Str("channel", "ws").Str("sink", string(handle)).Str("remote", conn.RemoteAddr().String()).Logger()
	wsLog.Info().Msg("ws connected")
	defer wsLog.Info().Msg("ws disconnected")

	readDone := make(chan struct{})
	pongs := make(chan struct{}, 1)
	go func() {
		defer close(readDone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(string(data))) {
			case "ping":
				select {
				case pongs <- struct{}{}:
				default:
				}
			case "sync":
				_ = h.hub.SendSnapshot(handle, broadcast.EventState)
			}
		}
	}()

	tick, stop := h.heartbeatTicker()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-readDone:
			return nil
		case <-queue.Done():
			return nil
		case ev := <-queue.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				return errors.Wrap(err, "marshal event")
			}
			if err := h.pool.Send(conn, websocket.TextMessage, data); err != nil {
				return nil
			}
		case <-pongs:
			pong := fmt.Sprintf(`{"type":"pong","timestamp":%q}`, time.Now().UTC().Format(time.RFC3339Nano))
			if err := h.pool.Send(conn, websocket.TextMessage, []byte(pong)); err != nil {
				return nil
			}
		case <-tick:
			if err := h.hub.SendSnapshot(handle, broadcast.EventHeartbeat); err != nil {
				return nil
			}
		}
	}
}

// ensureInitialized seeds the conversation before the first snapshot so a
// client connecting to a fresh server sees the greeting.
func (h *StreamHub) ensureInitialized() {
	if h.init != nil && !h.init.Initialized() {
		h.init.Initialize()
	}
}

func (h *StreamHub) heartbeatTicker() (<-chan time.Time, func()) {
	if h.heartbeat <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(h.heartbeat)
	return ticker.C, ticker.Stop
}

func writeSSE(w http.ResponseWriter, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
