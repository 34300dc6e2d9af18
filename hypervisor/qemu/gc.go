package qemu

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/openclaw/carapace/config"
	"github.com/openclaw/carapace/gc"
	"github.com/openclaw/carapace/lock/flock"
	storejson "github.com/openclaw/carapace/storage/json"
	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

// RegisterGC adds the per-boot log retention sweep. Log names start with a
// sortable timestamp, so lexicographic order is boot order; the sweep keeps
// the newest LogKeep files and never touches the recorded boot's log.
func RegisterGC(o *gc.Orchestrator, conf *config.Config) {
	o.Register(gc.Module{
		Name:   "vmlogs",
		Locker: flock.New(conf.LogSweepLock()),
		Sweep: func(ctx context.Context) (int, error) {
			return sweepLogs(ctx, conf)
		},
	})
}

func sweepLogs(ctx context.Context, conf *config.Config) (int, error) {
	if conf.LogKeep <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(conf.VMLogDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= conf.LogKeep {
		return 0, nil
	}
	slices.Sort(names)

	live := liveLogPath(ctx, conf)
	doomed := make(map[string]bool, len(names)-conf.LogKeep)
	for _, name := range names[:len(names)-conf.LogKeep] {
		if filepath.Join(conf.VMLogDir(), name) == live {
			continue
		}
		doomed[name] = true
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	return utils.RemoveMatching(ctx, conf.VMLogDir(), func(e os.DirEntry) bool {
		return doomed[e.Name()]
	})
}

// liveLogPath is the log file of the recorded boot, empty when none.
func liveLogPath(ctx context.Context, conf *config.Config) string {
	store := storejson.New[types.VMRecord](conf.VMRecordLock(), conf.VMRecordFile())
	var path string
	if err := store.With(ctx, func(r *types.VMRecord) error {
		path = r.LogPath
		return nil
	}); err != nil {
		return ""
	}
	return path
}
