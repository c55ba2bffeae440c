package filewatch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// UntilModifyContext derives a context which is cancelled when one of paths
// is written, created, removed or renamed.
//
// Empty paths are ignored. When no path remains, ctx is returned with a cancel
// function of its own.
//
// The cause of cancellation (context.Cause) names the modified file.
func UntilModifyContext(ctx context.Context, paths ...string) (context.Context, context.CancelFunc, error) {
	targets := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			targets = append(targets, p)
		}
	}

	cctx, cancel := context.WithCancelCause(ctx)
	if len(targets) == 0 {
		return cctx, func() { cancel(nil) }, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	for _, f := range targets {
		if err := w.Add(f); err != nil {
			w.Close()
			cancel(err)
			return nil, nil, fmt.Errorf("watching %s: %w", f, err)
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
					continue
				}
				cancel(fmt.Errorf("%s is updated (%s)", event.Name, event.Op.String()))
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(fmt.Errorf("watching files: %w", err))
				return
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
