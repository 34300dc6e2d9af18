// Package gc coordinates housekeeping sweeps across storage modules.
//
// Each module that owns on-disk state (installed images, per-run VM logs)
// registers a named Sweep guarded by the module's Locker. Run try-locks each
// module so a sweep never races an active operation (image update, VM boot):
// busy modules are skipped and picked up on the next cycle.
package gc

import (
	"context"
	"fmt"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/openclaw/carapace/lock"
)

// Module is one participant in a GC cycle.
type Module struct {
	Name string

	// Locker coordinates with the module's active operations. TryLock
	// returning false means an operation is in progress; the sweep is
	// skipped and retried on the next run.
	Locker lock.Locker

	// Sweep removes the module's stale artifacts. Called while the lock is
	// held, so it must not re-acquire it. Returns the number of entries
	// removed.
	Sweep func(ctx context.Context) (int, error)
}

// Orchestrator runs registered sweeps one cycle at a time.
type Orchestrator struct {
	modules []Module
}

// New creates an empty Orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// Register adds a module to the GC cycle.
func (o *Orchestrator) Register(m Module) {
	o.modules = append(o.modules, m)
}

// Run executes one GC cycle, sweeping each module under its try-lock and
// skipping the busy ones. Sweeps are independent, so a busy or failing
// module never blocks the others; its work is retried next cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := log.WithFunc("gc.Run")

	var errs []string
	for _, m := range o.modules {
		var removed int
		acquired, err := lock.WithTryLock(ctx, m.Locker, func() error {
			n, err := m.Sweep(ctx)
			removed = n
			return err
		})
		switch {
		case err != nil && !acquired:
			logger.Warnf(ctx, "skip %s: %v", m.Name, err)
			errs = append(errs, fmt.Sprintf("%s: %v", m.Name, err))
		case err != nil:
			errs = append(errs, fmt.Sprintf("%s: %v", m.Name, err))
		case !acquired:
			logger.Warnf(ctx, "skip %s: lock held by another operation", m.Name)
		case removed > 0:
			logger.Infof(ctx, "%s: removed %d entries", m.Name, removed)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("gc errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
