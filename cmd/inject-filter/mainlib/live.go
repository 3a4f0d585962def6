package mainlib

import (
	"log/slog"
	"sync/atomic"

	"github.com/msample/header-inject-filter/internal/inject"
	injectconfig "github.com/msample/header-inject-filter/internal/inject/config"
	"github.com/msample/header-inject-filter/internal/inject/rpcclient"
)

// liveFilter holds the process-wide, hot-reloadable *inject.Config behind
// an atomic pointer, so a config reload can swap it without disrupting
// in-flight streams: a reload installs a fresh process-wide instance
// rather than mutating the one in-flight streams are still reading.
type liveFilter struct {
	ptr     atomic.Pointer[inject.Config]
	client  rpcclient.Client
	metrics inject.FilterMetrics
	logger  *slog.Logger
}

var _ injectconfig.Receiver = (*liveFilter)(nil)

// LoadConfig implements injectconfig.Receiver.
func (f *liveFilter) LoadConfig(cfg *injectconfig.Config) {
	fc := inject.NewConfig(cfg, func() rpcclient.Client { return f.client }, f.metrics, f.logger)
	f.ptr.Store(fc)
}

// Current returns the most recently loaded filter Config, or nil before
// the first successful load.
func (f *liveFilter) Current() *inject.Config {
	return f.ptr.Load()
}

func (f *liveFilter) ready() bool {
	return f.ptr.Load() != nil
}
