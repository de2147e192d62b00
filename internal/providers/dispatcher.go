package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tryon/internal/metrics"
	"tryon/internal/tryon"
)

// Dispatcher invokes the selected Generator exactly once per request.
type Dispatcher struct {
	name    string
	gen     Generator
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewDispatcher wraps gen. maxRPS > 0 makes callers wait for admission; 0
// leaves calls unthrottled.
func NewDispatcher(name string, gen Generator, maxRPS float64, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		name:   name,
		gen:    gen,
		logger: logger.With().Str("provider", name).Logger(),
	}
	if maxRPS > 0 {
		burst := int(maxRPS)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(maxRPS), burst)
	}
	return d
}

// Name returns the provider id.
func (d *Dispatcher) Name() string {
	return d.name
}

// Generate returns the generator's image unchanged.
func (d *Dispatcher) Generate(ctx context.Context, req tryon.Request) (string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			metrics.ProviderCalls.WithLabelValues(d.name, "throttled").Inc()
			return "", fmt.Errorf("provider admission: %w", err)
		}
	}

	start := time.Now()
	img, err := d.gen.Generate(ctx, req)
	elapsed := time.Since(start)
	metrics.ProviderLatency.WithLabelValues(d.name).Observe(elapsed.Seconds())
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(d.name, "error").Inc()
		d.logger.Debug().Err(err).Dur("elapsed", elapsed).Msg("generation failed")
		return "", err
	}
	metrics.ProviderCalls.WithLabelValues(d.name, "ok").Inc()
	d.logger.Debug().Dur("elapsed", elapsed).Int("apparel", len(req.ApparelImages)).Msg("generation done")
	return img, nil
}

var _ Generator = (*Dispatcher)(nil)
