// Package health aggregates liveness information for the observatory
// process: device manager states, the local INDI server, and anything
// else registered as a checker. The control plane serves the aggregate.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status grades one component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is one component's health snapshot.
type Result struct {
	Component string                 `json:"component"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Checker produces a health snapshot for one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) *Result
}

// Aggregate is the combined view across all components.
type Aggregate struct {
	Status     Status             `json:"status"`
	Components map[string]*Result `json:"components"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Healthy reports whether every component checked out.
func (a *Aggregate) Healthy() bool {
	return a.Status == StatusHealthy
}

func overall(results map[string]*Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			status = StatusDegraded
		}
	}
	return status
}

// Engine runs the registered checkers, either on demand or periodically.
type Engine struct {
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	last     *Aggregate
}

// NewEngine builds an engine. interval 0 means a 10 second default for
// the periodic loop.
func NewEngine(interval time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Engine{
		logger:   logger.With(zap.String("component", "health")),
		interval: interval,
		checkers: make(map[string]Checker),
	}
}

// Register adds a checker. Re-registering a name replaces it.
func (e *Engine) Register(c Checker) {
	e.mu.Lock()
	e.checkers[c.Name()] = c
	e.mu.Unlock()
	e.logger.Debug("checker registered", zap.String("checker", c.Name()))
}

// CheckAll runs every checker concurrently and aggregates the results.
func (e *Engine) CheckAll(ctx context.Context) *Aggregate {
	e.mu.RLock()
	checkers := make(map[string]Checker, len(e.checkers))
	for name, c := range e.checkers {
		checkers[name] = c
	}
	e.mu.RUnlock()

	results := make(map[string]*Result, len(checkers))
	var wg sync.WaitGroup
	var resultsMu sync.Mutex
	for name, c := range checkers {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			start := time.Now()
			r := c.Check(ctx)
			r.Component = name
			r.Timestamp = start
			r.Duration = time.Since(start)
			resultsMu.Lock()
			results[name] = r
			resultsMu.Unlock()
		}(name, c)
	}
	wg.Wait()

	agg := &Aggregate{
		Status:     overall(results),
		Components: results,
		Timestamp:  time.Now(),
	}
	e.mu.Lock()
	e.last = agg
	e.mu.Unlock()
	return agg
}

// Last returns the most recent aggregate, which may be nil before the
// first check.
func (e *Engine) Last() *Aggregate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Run checks periodically until the context ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agg := e.CheckAll(ctx)
			if !agg.Healthy() {
				e.logger.Warn("health degraded", zap.String("status", string(agg.Status)))
			}
		}
	}
}
