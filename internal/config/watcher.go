// Package config provides configuration loading, validation and hot reload.
package config

import (
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Live holds the current configuration behind an atomic pointer.
// Handlers call Current at the start of each attempt; the watcher swaps the
// pointer on file change. Readers never take a lock and in-flight upstream
// calls are unaffected by a swap.
type Live struct {
	ptr atomic.Pointer[Config]
}

// NewLive creates a Live config holder seeded with the given config.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.ptr.Store(cfg)
	return l
}

// Current returns the configuration as of this instant.
func (l *Live) Current() *Config {
	return l.ptr.Load()
}

// Swap replaces the current configuration.
func (l *Live) Swap(cfg *Config) {
	l.ptr.Store(cfg)
}

// Watcher re-reads the config file on change events and hot-swaps the Live
// pointer. Read or validation errors keep the previous config serving.
type Watcher struct {
	v      *viper.Viper
	live   *Live
	logger *slog.Logger
}

// NewWatcher creates a Watcher over the Viper instance returned by Load.
func NewWatcher(v *viper.Viper, live *Live, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{v: v, live: live, logger: logger}
}

// Start begins watching the config file. It returns immediately; reloads
// happen on Viper's watch goroutine.
func (w *Watcher) Start() {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.logger.Info("config file changed",
			slog.String("file", e.Name),
			slog.String("op", e.Op.String()),
		)
		w.reload()
	})
	w.v.WatchConfig()
}

// reload re-reads and validates the file, swapping only when the new config
// is usable (valid and with at least one provider).
func (w *Watcher) reload() {
	cfg, err := unmarshalAndValidate(w.v)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config",
			slog.String("error", err.Error()),
		)
		return
	}

	if len(cfg.Providers) == 0 {
		w.logger.Error("config reload produced no providers, keeping previous config")
		return
	}

	w.live.Swap(cfg)
	w.logger.Info("config reloaded",
		slog.Int("providers", len(cfg.Providers)),
		slog.String("strategy", cfg.Proxy.LoadBalance),
	)
}
