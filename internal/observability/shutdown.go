package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ShutdownCoordinator tears session infrastructure down in reverse
// registration order, so the metrics listener registered first
// outlives the components it observes.
type ShutdownCoordinator struct {
	mu    sync.Mutex
	names []string
	fns   []func(context.Context) error
}

// Register appends a named teardown step.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

// Shutdown runs every step newest-first. A failing step does not stop
// the remaining ones; failures are joined into the returned error.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	names := append([]string(nil), s.names...)
	fns := append([]func(context.Context) error(nil), s.fns...)
	s.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		slog.Debug("stopping", "component", names[i])
		if err := fns[i](ctx); err != nil {
			slog.Error("teardown step failed", "component", names[i], "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", names[i], err))
		}
	}
	return errors.Join(errs...)
}
