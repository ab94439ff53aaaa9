package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures a BreakerTransport.
type BreakerConfig struct {
	// Name labels the breaker in logs and metrics, e.g. "elasticsearch".
	Name string
	// HalfOpenRequests are let through to probe a recovering backend.
	HalfOpenRequests uint32
	// Window resets the closed-state counts. Zero never resets them.
	Window time.Duration
	// OpenTimeout is how long the breaker rejects before probing again.
	OpenTimeout time.Duration
	// FailureRatio of at least MinRequests requests trips the breaker.
	FailureRatio float64
	MinRequests  uint32
	// IsFailure classifies response statuses. Nil uses BackendFailure.
	IsFailure func(status int) bool
}

// DefaultBreakerConfig returns the settings used in front of the search
// cluster.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		HalfOpenRequests: 1,
		Window:           time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureRatio:     0.5,
		MinRequests:      5,
	}
}

// BackendFailure treats 5xx answers and 429 as failures. Elasticsearch
// answers 429 when its search or write thread pool queue is full.
func BackendFailure(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// ErrBreakerOpen is returned for requests rejected without being sent.
var ErrBreakerOpen = errors.New("circuit breaker open")

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_client_breaker_state",
			Help: "Backend circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"breaker"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_breaker_transitions_total",
			Help: "Backend circuit breaker state changes by target state.",
		},
		[]string{"breaker", "to"},
	)

	breakerRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_breaker_rejected_total",
			Help: "Backend requests rejected by an open circuit breaker.",
		},
		[]string{"breaker"},
	)
)

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// statusError carries a failing response through the breaker so the
// caller still receives it.
type statusError struct{ status int }

func (e *statusError) Error() string { return "backend status " + strconv.Itoa(e.status) }

// abandonedError marks requests the caller canceled. They do not count
// against the backend.
type abandonedError struct{ err error }

func (e *abandonedError) Error() string { return e.err.Error() }
func (e *abandonedError) Unwrap() error { return e.err }

// BreakerTransport is an http.RoundTripper that stops calling a failing
// backend. Transport errors and statuses matching IsFailure count as
// failures; failing responses are still returned to the caller.
type BreakerTransport struct {
	next      http.RoundTripper
	cb        *gobreaker.CircuitBreaker[*http.Response]
	isFailure func(int) bool
	name      string
	logger    *slog.Logger
}

// NewBreakerTransport wraps next, or http.DefaultTransport when nil.
func NewBreakerTransport(next http.RoundTripper, cfg BreakerConfig, logger *slog.Logger) *BreakerTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	t := &BreakerTransport{
		next:      next,
		isFailure: cfg.IsFailure,
		name:      cfg.Name,
		logger:    logger,
	}
	if t.isFailure == nil {
		t.isFailure = BackendFailure
	}

	t.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Window,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= cfg.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			var abandoned *abandonedError
			return err == nil || errors.As(err, &abandoned)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelWarn
			if to == gobreaker.StateClosed {
				level = slog.LevelInfo
			}
			logger.Log(context.Background(), level, "circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateValue(to))
			breakerTransitions.WithLabelValues(name, to.String()).Inc()
		},
	})
	breakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		switch {
		case err != nil && errors.Is(req.Context().Err(), context.Canceled):
			return nil, &abandonedError{err: err}
		case err != nil:
			return nil, err
		case t.isFailure(resp.StatusCode):
			return resp, &statusError{status: resp.StatusCode}
		}
		return resp, nil
	})

	var (
		failed    *statusError
		abandoned *abandonedError
	)
	switch {
	case err == nil, errors.As(err, &failed):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		breakerRejected.WithLabelValues(t.name).Inc()
		t.logger.DebugContext(req.Context(), "request rejected by circuit breaker",
			slog.String("breaker", t.name),
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
		)
		return nil, fmt.Errorf("%s: %w: %w", t.name, ErrBreakerOpen, err)
	case errors.As(err, &abandoned):
		return nil, abandoned.err
	default:
		return nil, err
	}
}

// State returns the breaker's current state.
func (t *BreakerTransport) State() gobreaker.State {
	return t.cb.State()
}
