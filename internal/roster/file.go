package roster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileEntry is the YAML shape of one roster entry.
type fileEntry struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type rosterFile struct {
	Players []fileEntry `yaml:"players"`
}

// LoadFile replaces the cache content from a YAML roster file. Registered
// aliases get priorities in listing order.
func (c *Cache) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured roster path is expected
	if err != nil {
		return fmt.Errorf("read roster file: %w", err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse roster file %s: %w", path, err)
	}

	players := make([]Player, 0, len(rf.Players))
	var aliases []Alias
	for _, e := range rf.Players {
		if e.ID == "" || e.Name == "" {
			return fmt.Errorf("roster entry missing id or name: %+v", e)
		}
		players = append(players, Player{ID: e.ID, Name: e.Name})
		for i, a := range e.Aliases {
			aliases = append(aliases, Alias{
				PlayerID: e.ID,
				Alias:    a,
				Priority: i,
				Source:   SourceRegistered,
			})
		}
	}
	c.Replace(players, aliases)
	slog.Info("roster loaded", "path", path, "players", len(players), "aliases", len(aliases))
	return nil
}

// Watch reloads the roster file whenever it changes, until ctx is done.
// Reload failures keep the previous roster and are logged, not fatal.
func (c *Cache) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create roster watcher: %w", err)
	}
	// Watch the directory: editors typically replace the file atomically,
	// which drops a watch set on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch roster dir: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := c.LoadFile(path); err != nil {
					slog.Warn("roster reload failed, keeping previous roster", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("roster watcher error", "error", err)
			}
		}
	}()
	return nil
}
