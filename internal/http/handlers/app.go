package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"tryon/internal/middleware"
	"tryon/internal/providers"
)

// App carries the dependencies shared by the endpoint handlers.
type App struct {
	Generator    providers.Generator
	Provider     string
	Logger       zerolog.Logger
	Dev          bool
	MaxBodyBytes int64
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func NewApp(gen providers.Generator, provider string, dev bool, maxBodyBytes int64, logger zerolog.Logger) *App {
	return &App{
		Generator:    gen,
		Provider:     provider,
		Logger:       logger,
		Dev:          dev,
		MaxBodyBytes: maxBodyBytes,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// internalError answers 500. The cause reaches the caller only in development;
// otherwise it is logged at debug level.
func (a *App) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	log := middleware.RequestLogger(r.Context(), a.Logger)
	body := errorBody{Error: msg}
	if a.Dev {
		body.Details = err.Error()
		log.Error().Err(err).Msg(msg)
	} else {
		log.Error().Msg(msg)
		log.Debug().Err(err).Msg(msg)
	}
	a.json(w, http.StatusInternalServerError, body)
}
