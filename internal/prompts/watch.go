package prompts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch drops cache entries when profile files change on disk, so edits made
// outside the bot are picked up on the next read. It watches the built-in
// profile directories and blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompts: watch: %w", err)
	}
	defer watcher.Close()

	for _, p := range Profiles() {
		dir := filepath.Join(s.dir, string(p))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("prompts: watch: create %s: %w", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("prompts: watch: add %s: %w", dir, err)
		}
	}
	s.log.Info().Str("dir", s.dir).Msg("watching prompt profiles")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleFSEvent(ev)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(werr).Msg("prompt watcher error")
		}
	}
}

// handleFSEvent maps a changed path back to its profile field and drops the
// cached value.
func (s *Store) handleFSEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	field, ok := ParseField(filepath.Base(ev.Name))
	if !ok {
		return
	}
	profile := Profile(filepath.Base(filepath.Dir(ev.Name)))
	s.Invalidate(profile, field)
	s.log.Debug().Str("profile", string(profile)).Str("field", string(field)).Str("op", ev.Op.String()).Msg("prompt changed on disk")
}
