package webchat

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type RouterConfig struct {
	Service        ConversationService
	Store          SnapshotSource
	Hub            Broadcaster
	Streams        *StreamHub
	ProviderName   string
	HasProviderKey bool
	Logger         *zerolog.Logger
}

// Router mounts the conversation API on a ServeMux.
type Router struct {
	mux      *http.ServeMux
	streams  *StreamHub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Service == nil {
		return nil, errors.New("router conversation service is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("router snapshot source is nil")
	}
	if cfg.Hub == nil {
		return nil, errors.New("router broadcaster is nil")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	streams := cfg.Streams
	if streams == nil {
		var err error
		streams, err = NewStreamHub(StreamHubConfig{Hub: cfg.Hub, Init: cfg.Service, Logger: &logger})
		if err != nil {
			return nil, err
		}
	}
	r := &Router{
		mux:      http.NewServeMux(),
		streams:  streams,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger.With().Str("component", "webchat").Logger(),
	}

	r.handle(http.MethodGet, "/state", NewStateHTTPHandler(cfg.Service, cfg.Store, r.logger))
	r.handle(http.MethodPost, "/init", NewInitHTTPHandler(cfg.Service, cfg.Store, r.logger))
	step := NewStepHTTPHandler(cfg.Service, r.logger)
	r.handle(http.MethodPost, "/step", step)
	r.handle(http.MethodPost, "/generate", step)
	r.handle(http.MethodGet, "/messages", NewMessagesHTTPHandler(cfg.Store, r.logger))
	r.handle(http.MethodPost, "/messages", NewInjectHTTPHandler(cfg.Service, r.logger))
	r.handle(http.MethodGet, "/events", streams.ServeSSE)
	r.handle(http.MethodGet, "/stream", streams.ServeSSE)
	r.handle(http.MethodGet, "/ws", r.handleWS)
	health := NewHealthHTTPHandler(cfg.ProviderName, cfg.HasProviderKey, cfg.Hub, r.logger)
	r.handle(http.MethodGet, "/health", health)
	r.handle(http.MethodGet, "/test", health)
	return r, nil
}

// handle registers path at the root and under /api.
func (r *Router) handle(method, path string, h http.HandlerFunc) {
	r.mux.HandleFunc(method+" "+path, h)
	r.mux.HandleFunc(method+" /api"+path, h)
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug().Err(err).Msg("ws upgrade failed")
		return
	}
	if err := r.streams.AttachWebSocket(req.Context(), conn); err != nil {
		r.logger.Warn().Err(err).Msg("ws attach failed")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"failed to attach websocket"}`))
		_ = conn.Close()
	}
}

// Handler returns the API wrapped with permissive CORS, matching what
// browser clients on other origins expect from a public feed.
func (r *Router) Handler() http.Handler {
	return withCORS(r.mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
