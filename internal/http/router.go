package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"virtual-avatar-service/internal/app"
	"virtual-avatar-service/internal/schema"
	"virtual-avatar-service/internal/service/conversation"
	"virtual-avatar-service/internal/service/director"
	"virtual-avatar-service/internal/service/loop"
	"virtual-avatar-service/internal/service/speech"
)

const readinessTimeout = time.Second

// Conversation is the part of the director the HTTP API drives.
type Conversation interface {
	Begin(ctx context.Context) error
	Goodbye(ctx context.Context) error
	Snapshot(ctx context.Context) (director.Snapshot, error)
}

// Deps are the handlers' collaborators.
type Deps struct {
	Conversation Conversation
	// Player serves the remote player websocket; nil outside remote mode.
	Player   http.Handler
	Schemas  *schema.Validator
	Gatherer prometheus.Gatherer
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	deps := Deps{
		Conversation: application.Director,
		Schemas:      application.Validator,
		Gatherer:     prometheus.DefaultGatherer,
	}
	if application.Hub != nil {
		deps.Player = application.Hub
	}
	return Routes(deps)
}

// Routes builds the router from explicit dependencies.
func Routes(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if _, err := deps.Conversation.Snapshot(ctx); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/conversation", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				respondSnapshot(w, r, deps.Conversation, http.StatusOK)
			})
			r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
				if err := deps.Conversation.Begin(r.Context()); err != nil {
					writeError(w, err)
					return
				}
				respondSnapshot(w, r, deps.Conversation, http.StatusAccepted)
			})
			r.Post("/goodbye", func(w http.ResponseWriter, r *http.Request) {
				if err := deps.Conversation.Goodbye(r.Context()); err != nil {
					writeError(w, err)
					return
				}
				respondSnapshot(w, r, deps.Conversation, http.StatusAccepted)
			})
		})

		r.Get("/player", func(w http.ResponseWriter, r *http.Request) {
			if deps.Player == nil {
				http.Error(w, "remote playback is not enabled", http.StatusNotFound)
				return
			}
			deps.Player.ServeHTTP(w, r)
		})

		if deps.Schemas != nil {
			r.Get("/schemas", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string][]string{"eventTypes": deps.Schemas.EventTypes()})
			})
			r.Get("/schemas/{event}", func(w http.ResponseWriter, r *http.Request) {
				s, ok := deps.Schemas.Schema(chi.URLParam(r, "event"))
				if !ok {
					writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown event type"})
					return
				}
				writeJSON(w, http.StatusOK, s)
			})
		}
	})

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func respondSnapshot(w http.ResponseWriter, r *http.Request, c Conversation, status int) {
	snap, err := c.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, snap)
}

// writeError maps director errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, speech.ErrUnsupported):
		status = http.StatusServiceUnavailable
		msg = director.UnsupportedMessage
	case errors.Is(err, conversation.ErrAlreadyStarted), errors.Is(err, director.ErrNotStarted):
		status = http.StatusConflict
	case errors.Is(err, loop.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		log.Warn().Err(err).Int("status", status).Msg("Conversation request failed")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
