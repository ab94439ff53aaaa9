package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Checker is a function that checks the health of a dependency.
type Checker func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds one readiness probe.
const DefaultCheckTimeout = 5 * time.Second

// Response is the JSON body of both health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type dependency struct {
	name     string
	check    Checker
	critical bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout overrides DefaultCheckTimeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves liveness and readiness probes. A failing critical
// dependency makes the service unready (503); a failing non-critical one
// only degrades it.
type Handler struct {
	mu      sync.RWMutex
	deps    map[string]dependency
	timeout time.Duration
	started time.Time
	now     func() time.Time
}

// NewHandler creates a health handler with no dependencies.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		deps:    make(map[string]dependency),
		timeout: DefaultCheckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// RegisterCritical adds a checker whose failure makes the service unready.
func (h *Handler) RegisterCritical(name string, check Checker) {
	h.register(dependency{name: name, check: check, critical: true})
}

// RegisterNonCritical adds a checker whose failure only degrades the service.
func (h *Handler) RegisterNonCritical(name string, check Checker) {
	h.register(dependency{name: name, check: check})
}

func (h *Handler) register(d dependency) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps[d.name] = d
}

// Dependencies lists the registered names in order.
func (h *Handler) Dependencies() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LivenessHandler reports the process as up without probing dependencies.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		now := h.now()
		writeResponse(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: now.UTC(),
			Uptime:    now.Sub(h.started).Round(time.Second).String(),
		})
	}
}

// ReadinessHandler probes every dependency concurrently.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, code, resp)
	}
}

// Check runs all probes under the handler timeout and aggregates them.
func (h *Handler) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	deps := make([]dependency, 0, len(h.deps))
	for _, d := range h.deps {
		deps = append(deps, d)
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(deps))
	var g errgroup.Group
	for i, d := range deps {
		g.Go(func() error {
			results[i] = h.probe(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{
		Status:    StatusUp,
		Timestamp: h.now().UTC(),
		Checks:    make(map[string]CheckResult, len(deps)),
	}
	for i, d := range deps {
		res := results[i]
		resp.Checks[d.name] = res
		if res.Status != StatusDown || resp.Status == StatusDown {
			continue
		}
		if res.Critical {
			resp.Status = StatusDown
		} else {
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// probe runs one checker. A checker that ignores ctx is abandoned at the
// deadline and reported down.
func (h *Handler) probe(ctx context.Context, d dependency) CheckResult {
	start := h.now()
	done := make(chan error, 1)
	go func() { done <- d.check(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	res := CheckResult{
		Status:    StatusUp,
		Critical:  d.critical,
		LatencyMs: h.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		res.Status = StatusDown
		res.Error = err.Error()
	}
	return res
}

func writeResponse(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
