package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/hypervisor"
)

var logsCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the hypervisor log of the current or last boot",
		Args:  cobra.NoArgs,
		RunE:  runLogs,
	}
	cmd.Flags().BoolP("follow", "f", false, "keep printing as the log grows")
	return cmd
}()

func runLogs(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	path, err := currentLogPath(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(path) //nolint:gosec // supervisor-owned log dir
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if _, err := io.Copy(os.Stdout, f); err != nil {
		return err
	}

	if follow, _ := cmd.Flags().GetBool("follow"); !follow {
		return nil
	}
	return followLog(ctx, f, path)
}

// currentLogPath prefers the live boot's log and falls back to the newest
// log on disk (names sort chronologically).
func currentLogPath(ctx context.Context) (string, error) {
	s, err := newSupervisor(nil)
	if err != nil {
		return "", err
	}
	rec, err := s.Record(ctx)
	if err == nil && rec.LogPath != "" {
		return rec.LogPath, nil
	}
	if err != nil && !errors.Is(err, hypervisor.ErrNotRunning) {
		return "", err
	}

	dir := conf.VMLogDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", errors.New("no boot logs found")
	}
	slices.Sort(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

// followLog keeps copying appended bytes until interrupted. A remove or
// rename of the file (retention sweep) ends the follow.
func followLog(ctx context.Context, f *os.File, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch log: %w", err)
	}
	defer watcher.Close() //nolint:errcheck
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch log: %w", err)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				if _, err := io.Copy(os.Stdout, f); err != nil {
					return err
				}
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return werr
		case <-ctx.Done():
			return nil
		}
	}
}
