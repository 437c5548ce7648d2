package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ShutdownHook is a function called during shutdown.
type ShutdownHook struct {
	Name     string
	Priority int // Lower priority runs first
	Fn       func(ctx context.Context) error
}

// Hook priorities used by the worker.
const (
	PriorityHTTP       = 10
	PriorityWorker     = 20
	PriorityTracing    = 80
	PriorityGraphStore = 90
)

// ShutdownHandler runs registered hooks in priority order, once.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	logger  *slog.Logger
	once    sync.Once
	errs    []error
}

// NewShutdownHandler creates a handler whose hooks share one timeout. A
// non-positive timeout means 30 seconds.
func NewShutdownHandler(timeout time.Duration, logger *slog.Logger) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownHandler{timeout: timeout, logger: logger}
}

// RegisterHook adds a shutdown hook. Hooks of equal priority run in
// registration order.
func (s *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, ShutdownHook{Name: name, Priority: priority, Fn: fn})
	sort.SliceStable(s.hooks, func(i, j int) bool {
		return s.hooks[i].Priority < s.hooks[j].Priority
	})
}

// Shutdown runs every hook, continuing past failures, and returns the
// failures. Later calls return the first call's result.
func (s *ShutdownHandler) Shutdown() []error {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		s.mu.Lock()
		hooks := append([]ShutdownHook(nil), s.hooks...)
		s.mu.Unlock()

		for _, hook := range hooks {
			start := time.Now()
			if err := hook.Fn(ctx); err != nil {
				s.logger.Error("shutdown hook failed", "hook", hook.Name, "error", err)
				s.errs = append(s.errs, fmt.Errorf("%s: %w", hook.Name, err))
				continue
			}
			s.logger.Debug("shutdown hook done", "hook", hook.Name, "elapsed", time.Since(start))
		}
	})
	return s.errs
}
