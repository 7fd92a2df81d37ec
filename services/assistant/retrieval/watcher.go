// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads the registered documentation files when they change on
// disk. It blocks until the context is cancelled, so run it in its own
// goroutine. A reload failure keeps the previous index and logs the error.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.RLock()
	paths := append([]string(nil), s.paths...)
	s.mu.RUnlock()

	if len(paths) == 0 {
		slog.Debug("No documentation files registered, watcher idle")
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			return err
		}
	}
	slog.Info("Watching documentation files", slog.Int("files", len(paths)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.reload(event.Name); err != nil {
				slog.Error("Documentation reload failed, keeping previous index",
					slog.String("path", event.Name),
					slog.String("error", err.Error()),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Documentation watcher error", slog.String("error", err.Error()))
		}
	}
}
