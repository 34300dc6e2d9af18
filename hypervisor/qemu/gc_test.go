package qemu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/carapace/config"
	storejson "github.com/openclaw/carapace/storage/json"
	"github.com/openclaw/carapace/types"
)

func newSweepConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	conf := config.DefaultConfig()
	conf.RootDir = filepath.Join(base, "root")
	conf.RunDir = filepath.Join(base, "run")
	conf.LogDir = filepath.Join(base, "log")
	if err := conf.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return conf
}

func writeBootLog(t *testing.T, conf *config.Config, name string) string {
	t.Helper()
	path := filepath.Join(conf.VMLogDir(), name)
	if err := os.WriteFile(path, []byte("boot\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestSweepLogs_KeepsNewest(t *testing.T) {
	conf := newSweepConfig(t)
	conf.LogKeep = 3
	for i := 0; i < 7; i++ {
		writeBootLog(t, conf, fmt.Sprintf("20260101-00000%d-aaaa.log", i))
	}

	removed, err := sweepLogs(context.Background(), conf)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 4 {
		t.Fatalf("removed = %d, want 4", removed)
	}

	entries, err := os.ReadDir(conf.VMLogDir())
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("left %d logs, want 3", len(entries))
	}
	for _, e := range entries {
		if e.Name() < "20260101-000004-aaaa.log" {
			t.Fatalf("old log %s survived", e.Name())
		}
	}
}

func TestSweepLogs_SparesLiveBootLog(t *testing.T) {
	conf := newSweepConfig(t)
	conf.LogKeep = 1
	live := writeBootLog(t, conf, "20260101-000000-live.log")
	for i := 1; i < 4; i++ {
		writeBootLog(t, conf, fmt.Sprintf("20260101-00000%d-aaaa.log", i))
	}

	store := storejson.New[types.VMRecord](conf.VMRecordLock(), conf.VMRecordFile())
	err := store.Update(context.Background(), func(r *types.VMRecord) error {
		r.RunID = "live"
		r.PID = 1
		r.LogPath = live
		return nil
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	if _, err := sweepLogs(context.Background(), conf); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// the oldest log belongs to the recorded boot, so it must survive
	if _, err := os.Stat(live); err != nil {
		t.Fatalf("live boot log removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(conf.VMLogDir(), "20260101-000001-aaaa.log")); !os.IsNotExist(err) {
		t.Fatal("unprotected old log survived the sweep")
	}
}

func TestSweepLogs_UnderLimitNoop(t *testing.T) {
	conf := newSweepConfig(t)
	conf.LogKeep = 10
	writeBootLog(t, conf, "20260101-000000-aaaa.log")

	removed, err := sweepLogs(context.Background(), conf)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}
