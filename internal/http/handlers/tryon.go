package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"tryon/internal/classify"
	"tryon/internal/metrics"
	"tryon/internal/middleware"
	"tryon/internal/providers"
	"tryon/internal/tryon"
)

// Response messages of the try-on endpoint.
const (
	MsgInvalidRequest  = "Invalid request"
	MsgInvalidJSON     = "Invalid JSON body"
	MsgBodyTooLarge    = "Request body too large"
	MsgGenerateFailed  = "Failed to generate try-on image"
	MsgRequestCanceled = "Request canceled"
)

// Tryon validates the request and hands it to the generator. Quota has
// already been consumed by the rate limit middleware.
func (a *App) Tryon(w http.ResponseWriter, r *http.Request) {
	var req tryon.Request
	if !a.decode(w, r, &req) {
		return
	}

	if verr := tryon.Validate(req); verr != nil {
		metrics.ValidationFailures.Inc()
		a.json(w, http.StatusBadRequest, errorBody{Error: MsgInvalidRequest, Details: verr.Fields})
		return
	}

	img, err := a.Generator.Generate(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			middleware.RequestLogger(r.Context(), a.Logger).Info().Msg("client went away during generation")
			a.json(w, http.StatusServiceUnavailable, errorBody{Error: MsgRequestCanceled})
			return
		}
		if wait, limited := providers.UpstreamRateLimit(err); limited {
			middleware.RequestLogger(r.Context(), a.Logger).Warn().
				Str("provider", a.Provider).
				Dur("retry_after", wait).
				Msg("provider rate limited")
			if wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			a.json(w, http.StatusTooManyRequests, errorBody{Error: classify.MsgRateLimited})
			return
		}
		a.internalError(w, r, MsgGenerateFailed, err)
		return
	}
	a.json(w, http.StatusOK, tryon.Result{ImageData: img})
}

// decode reads a bounded JSON body into v, answering 400 or 413 itself.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if a.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.json(w, http.StatusRequestEntityTooLarge, errorBody{Error: MsgBodyTooLarge})
			return false
		}
		a.json(w, http.StatusBadRequest, errorBody{
			Error:   MsgInvalidRequest,
			Details: []tryon.FieldError{{Field: "body", Message: MsgInvalidJSON}},
		})
		return false
	}
	return true
}
