package decision

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// onboardingCache holds the lowercased contents of onboarding markdown
// files keyed by filename, populated lazily and invalidated either
// explicitly or by a running watcher. Decide never invalidates it — only
// ClearOnboardingCache and WatchOnboarding's fsnotify loop do that (spec §9
// "Decision Engine onboarding cache invalidation").
type onboardingCache struct {
	mu    sync.RWMutex
	files map[string]string
}

func newOnboardingCache() *onboardingCache {
	return &onboardingCache{files: make(map[string]string)}
}

// get returns the cached lowercased content for name, reading it from dir
// on a cache miss.
func (c *onboardingCache) get(dir, name string) (string, bool) {
	c.mu.RLock()
	content, ok := c.files[name]
	c.mu.RUnlock()
	if ok {
		return content, true
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	content = strings.ToLower(string(data))

	c.mu.Lock()
	c.files[name] = content
	c.mu.Unlock()
	return content, true
}

func (c *onboardingCache) invalidate(name string) {
	c.mu.Lock()
	delete(c.files, name)
	c.mu.Unlock()
}

func (c *onboardingCache) invalidateAll() {
	c.mu.Lock()
	c.files = make(map[string]string)
	c.mu.Unlock()
}

// ClearOnboardingCache drops every cached onboarding document, mirroring
// the State Manager's explicit ClearCache (spec §9 design note: neither
// cache is invalidated implicitly except through a running watcher).
func (e *Engine) ClearOnboardingCache() {
	e.cache.invalidateAll()
}

// WatchOnboarding starts an fsnotify watch on the Engine's onboarding
// directory so edits to its markdown files invalidate the onboarding
// cache instead of going stale for the life of the process. It is a
// no-op (returning a stop function that does nothing) when no onboarding directory was
// configured or it doesn't exist yet. Call the returned function to stop
// watching.
func (e *Engine) WatchOnboarding() (stop func(), err error) {
	if e.onboardingDir == "" {
		return func() {}, nil
	}
	if _, statErr := os.Stat(e.onboardingDir); statErr != nil {
		return func() {}, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(e.onboardingDir); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Chmod == fsnotify.Chmod {
					continue
				}
				name := filepath.Base(ev.Name)
				e.cache.invalidate(name)
				slog.Debug("onboarding doc invalidated", "file", name, "op", ev.Op)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("onboarding watcher error", "error", err)
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}
