package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Receiver accepts a newly (re)loaded Config. Decouples the watcher from
// whatever holds the live *Config pointer (cmd/inject-filter's Main swaps
// it atomically without disrupting in-flight streams, which already hold
// their own resolved *action.Action once matched).
type Receiver interface {
	LoadConfig(cfg *Config)
}

type watcher struct {
	path    string
	cm      ClusterManager
	rcv     Receiver
	l       *slog.Logger
	lastMod time.Time
}

// StartWatcher loads path once synchronously, then polls its mtime on tick
// and reloads whenever it changes, grounded on
// internal/filterapi/watcher.go's configWatcher.
func StartWatcher(ctx context.Context, path string, cm ClusterManager, rcv Receiver, l *slog.Logger, tick time.Duration) error {
	w := &watcher{path: path, cm: cm, rcv: rcv, l: l}
	if err := w.reload(); err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}
	l.Info("start watching config file", slog.String("path", path), slog.String("interval", tick.String()))
	go w.watch(ctx, tick)
	return nil
}

func (w *watcher) watch(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.l.Info("stop watching config file", slog.String("path", w.path))
			return
		case <-ticker.C:
			if err := w.reload(); err != nil {
				w.l.Error("failed to reload config", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *watcher) reload() error {
	stat, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	if stat.ModTime().Sub(w.lastMod) <= 0 {
		return nil
	}
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	cfg, err := Load(raw, w.cm)
	if err != nil {
		return fmt.Errorf("config at %s: %w", w.path, err)
	}
	w.lastMod = stat.ModTime()
	w.l.Info("loaded config", slog.String("path", w.path))
	w.rcv.LoadConfig(cfg)
	return nil
}
