// Package notice feeds external advisor notices into the conversation. A
// notice file is watched for changes; its content is handed to the loop
// at most once per configured interval and appended as a Narrator turn.
package notice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/patrickmn/go-cache"

	"github.com/zjrosen/parley/internal/log"
)

// DefaultInterval is the minimum spacing between injected notices.
const DefaultInterval = 5 * time.Minute

const gateKey = "injected"

// Source watches a notice file and rate-limits its delivery.
type Source struct {
	path    string
	watcher *fsnotify.Watcher
	gate    *cache.Cache

	mu      sync.Mutex
	current string
}

// NewSource starts watching the notice file. A missing file is not an
// error; the notice appears once the file is created.
func NewSource(path string, interval time.Duration) (*Source, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating notice watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save
	// and a direct file watch dies with the old inode.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("creating notice directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching notice directory: %w", err)
	}

	s := &Source{
		path:    filepath.Clean(path),
		watcher: watcher,
		gate:    cache.New(interval, time.Minute),
	}
	s.reload()

	log.SafeGo("notice-watcher", s.watch)
	return s, nil
}

func (s *Source) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.set("")
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatNotice, "Notice watcher error", "error", err)
		}
	}
}

func (s *Source) reload() {
	data, err := os.ReadFile(s.path) //nolint:gosec // G304: path comes from trusted config
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn(log.CatNotice, "Reading notice file failed", "path", s.path, "error", err)
		}
		s.set("")
		return
	}
	s.set(strings.TrimSpace(string(data)))
}

func (s *Source) set(text string) {
	s.mu.Lock()
	s.current = text
	s.mu.Unlock()
}

// Next returns the current notice when one is present and the injection
// interval has elapsed since the last delivery. Returning a notice arms
// the gate.
func (s *Source) Next() (string, bool) {
	s.mu.Lock()
	text := s.current
	s.mu.Unlock()

	if text == "" {
		return "", false
	}
	if _, gated := s.gate.Get(gateKey); gated {
		return "", false
	}
	s.gate.Set(gateKey, struct{}{}, cache.DefaultExpiration)
	log.Info(log.CatNotice, "Notice ready for injection", "chars", len(text))
	return text, true
}

// Close stops the watcher.
func (s *Source) Close() error {
	return s.watcher.Close()
}
