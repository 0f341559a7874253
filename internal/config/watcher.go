package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Reload describes an effective configuration change seen by a [Watcher].
type Reload struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher polls a config file and reports changes that alter the decoded
// configuration. Edits that [Diff] cannot see, such as comments or key
// reordering, produce no callback. A file that no longer loads or validates
// is logged and the previous configuration stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)
	loadOpts []LoadOption
	overlay  func(*Config)

	mu      sync.Mutex
	current *Config
	modTime time.Time
	size    int64

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLoadOptions passes opts to every load, including the initial one.
func WithLoadOptions(opts ...LoadOption) WatcherOption {
	return func(w *Watcher) { w.loadOpts = append(w.loadOpts, opts...) }
}

// WithOverlay applies fn to every loaded config before it is validated and
// compared. Command-line overrides go here so they neither vanish on reload
// nor show up as changes.
func WithOverlay(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.overlay = fn }
}

// NewWatcher loads path and starts polling it in a background goroutine.
// onReload may be nil.
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.modTime, w.size = cfg, info.ModTime(), info.Size()

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime) && info.Size() == w.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.modTime, w.size = info.ModTime(), info.Size()
	old := w.current
	d := Diff(old, cfg)
	if d.Empty() {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	// Outside the lock so the callback may call Current.
	if w.onReload != nil {
		w.onReload(Reload{Old: old, New: cfg, Diff: d})
	}
}

func (w *Watcher) load() (*Config, error) {
	cfg, err := Load(w.path, w.loadOpts...)
	if err != nil {
		return nil, err
	}
	if w.overlay != nil {
		w.overlay(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Level maps l onto slog. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ApplyReload returns a reload callback that moves level to a changed
// log_level and warns through log about sections that need a restart.
func ApplyReload(level *slog.LevelVar, log *slog.Logger) func(Reload) {
	return func(r Reload) {
		if r.Diff.LogLevelChanged {
			level.Set(r.Diff.NewLogLevel.Level())
			log.Info("log level changed", "level", r.Diff.NewLogLevel)
		}
		if len(r.Diff.RestartRequired) > 0 {
			log.Warn("config changes need a restart", "sections", strings.Join(r.Diff.RestartRequired, ","))
		}
	}
}
