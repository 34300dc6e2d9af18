package gc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// stubLocker counts acquisitions and can simulate a busy lock.
type stubLocker struct {
	busy    bool
	failErr error
	locks   int
	unlocks int
}

func (l *stubLocker) Lock(ctx context.Context) error { l.locks++; return nil }

func (l *stubLocker) Unlock(ctx context.Context) error { l.unlocks++; return nil }

func (l *stubLocker) TryLock(ctx context.Context) (bool, error) {
	if l.failErr != nil {
		return false, l.failErr
	}
	if l.busy {
		return false, nil
	}
	l.locks++
	return true, nil
}

func TestRun_SweepsAllModules(t *testing.T) {
	o := New()
	var swept []string
	for _, name := range []string{"images", "vmlogs"} {
		name := name
		o.Register(Module{
			Name:   name,
			Locker: &stubLocker{},
			Sweep: func(ctx context.Context) (int, error) {
				swept = append(swept, name)
				return 1, nil
			},
		})
	}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(swept) != 2 || swept[0] != "images" || swept[1] != "vmlogs" {
		t.Fatalf("swept %v, want [images vmlogs]", swept)
	}
}

func TestRun_SkipsBusyModule(t *testing.T) {
	o := New()
	busy := &stubLocker{busy: true}
	o.Register(Module{
		Name:   "images",
		Locker: busy,
		Sweep: func(ctx context.Context) (int, error) {
			t.Fatal("sweep ran despite busy lock")
			return 0, nil
		},
	})
	var ran bool
	o.Register(Module{
		Name:   "vmlogs",
		Locker: &stubLocker{},
		Sweep:  func(ctx context.Context) (int, error) { ran = true; return 0, nil },
	})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("busy module blocked the rest of the cycle")
	}
	if busy.unlocks != 0 {
		t.Fatalf("unlocked a lock that was never acquired (%d)", busy.unlocks)
	}
}

func TestRun_AggregatesErrors(t *testing.T) {
	o := New()
	o.Register(Module{
		Name:   "images",
		Locker: &stubLocker{},
		Sweep:  func(ctx context.Context) (int, error) { return 0, errors.New("scratch dir unreadable") },
	})
	healthy := &stubLocker{}
	o.Register(Module{
		Name:   "vmlogs",
		Locker: healthy,
		Sweep:  func(ctx context.Context) (int, error) { return 2, nil },
	})

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "images: scratch dir unreadable") {
		t.Fatalf("error %q missing failing module detail", err)
	}
	if healthy.unlocks != 1 {
		t.Fatalf("healthy module unlocked %d times, want 1", healthy.unlocks)
	}
}
