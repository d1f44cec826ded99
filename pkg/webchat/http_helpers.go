package webchat

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/duet/pkg/conversation"
)

const maxMessageBodyBytes = 64 << 10

func NewStateHTTPHandler(svc ConversationService, store SnapshotSource, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !svc.Initialized() {
			svc.Initialize()
		}
		writeJSON(w, logger, http.StatusOK, stateResponse(svc, store))
	}
}

func NewInitHTTPHandler(svc ConversationService, store SnapshotSource, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		svc.Initialize()
		state := stateResponse(svc, store)
		writeJSON(w, logger, http.StatusOK, InitResponse{
			Success:       true,
			StateResponse: state,
			MessageCount:  len(state.Log),
		})
	}
}

func NewStepHTTPHandler(svc ConversationService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		turn, err := svc.RequestNextTurn(req.Context())
		if err != nil {
			logger.Error().Err(err).Msg("step failed")
			writeJSON(w, logger, http.StatusInternalServerError, ErrorResponse{Error: "failed to generate message"})
			return
		}
		if turn == nil {
			writeJSON(w, logger, http.StatusConflict, ErrorResponse{Error: "generation in progress, try again later"})
			return
		}
		writeJSON(w, logger, http.StatusOK, TurnResponse{Turn: *turn})
	}
}

func NewMessagesHTTPHandler(store SnapshotSource, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := store.Snapshot()
		writeJSON(w, logger, http.StatusOK, MessagesResponse{Log: nonNil(snap.Log), TotalCount: snap.TotalCount})
	}
}

func NewInjectHTTPHandler(svc ConversationService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxMessageBodyBytes)
		var body messageRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: "Content is required"})
			return
		}
		content, ok := body.Content.(string)
		content = strings.TrimSpace(content)
		if !ok || content == "" {
			writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: "Content is required"})
			return
		}
		if content == conversation.PendingContent {
			writeJSON(w, logger, http.StatusBadRequest, ErrorResponse{Error: "Content is reserved"})
			return
		}
		turn := svc.InjectUserTurn(content)
		writeJSON(w, logger, http.StatusOK, TurnResponse{Turn: turn})
	}
}

func NewHealthHTTPHandler(provider string, hasKey bool, hub Broadcaster, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := HealthResponse{
			Status:         "ok",
			Timestamp:      time.Now().UTC(),
			Provider:       provider,
			HasProviderKey: hasKey,
		}
		if hub != nil {
			resp.Subscribers = hub.Count()
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

func stateResponse(svc ConversationService, store SnapshotSource) StateResponse {
	snap := store.Snapshot()
	status := svc.Status()
	return StateResponse{
		Log:        nonNil(snap.Log),
		TotalCount: snap.TotalCount,
		LiveMode:   status.LiveMode,
		Busy:       status.Busy,
	}
}

func nonNil(turns []conversation.Turn) []conversation.Turn {
	if turns == nil {
		return []conversation.Turn{}
	}
	return turns
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Int("status", status).Msg("response write failed")
	}
}
