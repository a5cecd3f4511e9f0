package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const watchDebounce = 350 * time.Millisecond

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-check a document every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, _, err := a.remote(cmd.Context()); err != nil {
				return err
			}
			return a.watch(cmd, path)
		},
	}
}

// watch runs check once, then again after every burst of writes to path. Editors
// often replace the file on save, so the directory is watched instead of the file.
func (a *app) watch(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	a.recheck(ctx, cmd, path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("file watcher error", zap.Error(err))
		case <-debounce:
			debounce = nil
			a.recheck(ctx, cmd, path)
		}
	}
}

// recheck re-reads the document, re-selects its iteration and prints the check.
// Failures are logged so the watch keeps going.
func (a *app) recheck(ctx context.Context, cmd *cobra.Command, path string) {
	lines, err := readLines(path)
	if err != nil {
		a.log.Warn("failed to read document", zap.Error(err))
		return
	}
	_, store, err := a.remote(ctx)
	if err != nil {
		a.log.Warn("remote unavailable", zap.Error(err))
		return
	}
	if _, err := store.DetermineIteration(ctx, lines); err != nil {
		a.log.Warn("failed to determine iteration", zap.Error(err))
	}
	if err := a.check(cmd, lines); err != nil {
		a.log.Warn("check failed", zap.Error(err))
	}
}
