package images

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/openclaw/carapace/config"
	"github.com/openclaw/carapace/gc"
	"github.com/openclaw/carapace/lock/flock"
	"github.com/openclaw/carapace/utils"
)

// RegisterGC adds the image scratch sweep to the orchestrator. The sweep
// shares the image-dir lock with Update, so it never touches a scratch
// directory an active install is still filling.
func RegisterGC(o *gc.Orchestrator, conf *config.Config) {
	o.Register(gc.Module{
		Name:   "images",
		Locker: flock.New(conf.ImageLock()),
		Sweep: func(ctx context.Context) (int, error) {
			return sweepScratch(ctx, conf.ImageDir())
		},
	})
}

// sweepScratch removes download scratch directories old enough that no live
// install can still own them.
func sweepScratch(ctx context.Context, dir string) (int, error) {
	cutoff := time.Now().Add(-utils.StaleTempAge)
	return utils.RemoveMatching(ctx, dir, func(e os.DirEntry) bool {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), scratchPrefix) {
			return false
		}
		info, err := e.Info()
		return err == nil && info.ModTime().Before(cutoff)
	})
}
