package driver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Allowlist is the set of solver binaries that may be launched: a static
// list plus an optional file that is re-read whenever it changes.
type Allowlist struct {
	static map[string]struct{}
	file   string
	log    *slog.Logger

	mu       sync.RWMutex
	fromFile map[string]struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewAllowlist loads the file (if any) and starts watching it.
func NewAllowlist(binaries []string, file string, log *slog.Logger) (*Allowlist, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &Allowlist{
		static: make(map[string]struct{}, len(binaries)),
		log:    log,
		done:   make(chan struct{}),
	}
	for _, b := range binaries {
		a.static[normalizeBinary(b)] = struct{}{}
	}
	if file == "" {
		return a, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("allowlist file: %w", err)
	}
	a.file = abs
	if err := a.Reload(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("allowlist watcher: %w", err)
	}
	// Watch the directory: editors and config management replace files by rename.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	a.watcher = w
	go a.watch()
	return a, nil
}

// Enabled reports whether any restriction is configured.
func (a *Allowlist) Enabled() bool {
	return len(a.static) > 0 || a.file != ""
}

// Allowed reports whether path (after resolving symlinks) may be launched.
func (a *Allowlist) Allowed(path string) bool {
	p := normalizeBinary(path)
	if _, ok := a.static[p]; ok {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.fromFile[p]
	return ok
}

// Reload re-reads the allowlist file. A missing file keeps the previous set.
func (a *Allowlist) Reload() error {
	if a.file == "" {
		return nil
	}
	b, err := os.ReadFile(a.file)
	if err != nil {
		if os.IsNotExist(err) {
			a.log.Warn("allowlist file missing, keeping previous entries", slog.String("file", a.file))
			return nil
		}
		return fmt.Errorf("read allowlist: %w", err)
	}
	m := parseAllowlist(string(b))
	a.mu.Lock()
	a.fromFile = m
	a.mu.Unlock()
	a.log.Debug("allowlist loaded", slog.String("file", a.file), slog.Int("entries", len(m)))
	return nil
}

func (a *Allowlist) watch() {
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != a.file {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				if err := a.Reload(); err != nil {
					a.log.Warn("allowlist reload failed", slog.String("error", err.Error()))
				}
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.log.Warn("allowlist watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the file watcher.
func (a *Allowlist) Close() error {
	var err error
	a.once.Do(func() {
		close(a.done)
		if a.watcher != nil {
			err = a.watcher.Close()
		}
	})
	return err
}

// parseAllowlist reads one absolute path per line. '#' starts a comment;
// relative paths are ignored.
func parseAllowlist(s string) map[string]struct{} {
	lines := strings.Split(s, "\n")
	m := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if i := strings.Index(s, " #"); i >= 0 {
			s = strings.TrimSpace(s[:i])
			if s == "" {
				continue
			}
		}
		if !filepath.IsAbs(s) {
			continue
		}
		m[normalizeBinary(s)] = struct{}{}
	}
	return m
}

func normalizeBinary(p string) string {
	if rp, err := filepath.EvalSymlinks(p); err == nil {
		return rp
	}
	return filepath.Clean(p)
}
