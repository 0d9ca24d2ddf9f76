// Package watcher live-watches the configured collection roots with
// fsnotify, feeding Collection Store inserts/removes between scheduled
// Reconciliation Pass runs (spec §4.7, §9: "a scheduled sweep alone misses
// changes for up to a full period"). Adapted from the teacher's
// internal/watcher/watcher.go, collapsed from per-library folder sets down
// to this system's flat root list and debounced the same way.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OnFileEvent is called when a media file is created or removed, after
// debouncing settles.
type OnFileEvent func(path string, isCreate bool)

// Watcher monitors the configured roots for filesystem changes.
type Watcher struct {
	roots      []string
	extensions map[string]bool
	callback   OnFileEvent
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	watched    map[string]bool
	debounce   map[string]*time.Timer
	stop       chan struct{}
}

// New creates a Watcher over roots, restricted to the given extensions
// (no leading dot, case-insensitive).
func New(roots []string, extensions []string, cb OnFileEvent) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet["."+strings.ToLower(e)] = true
	}
	return &Watcher{
		roots:      roots,
		extensions: extSet,
		callback:   cb,
		watcher:    fw,
		watched:    make(map[string]bool),
		debounce:   make(map[string]*time.Timer),
		stop:       make(chan struct{}),
	}, nil
}

// Start begins watching every configured root and processing events.
func (w *Watcher) Start() {
	go w.eventLoop()
	w.Refresh()
	log.Println("[watcher] filesystem watcher started")
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	close(w.stop)
	w.watcher.Close()
}

// Refresh re-walks every root, adding any new directories to the watch set.
func (w *Watcher) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, root := range w.roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if err := w.addRecursive(root); err != nil {
			log.Printf("[watcher] error adding %s: %v", root, err)
		}
	}
	log.Printf("[watcher] watching %d directories across %d roots", len(w.watched), len(w.roots))
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && !w.watched[path] {
			if err := w.watcher.Add(path); err != nil {
				return nil
			}
			w.watched[path] = true
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] error: %v", err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part") {
		return
	}

	isCreate := event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
	isRemove := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	if !isCreate && !isRemove {
		return
	}

	if isCreate {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			w.mu.Lock()
			w.watcher.Add(event.Name)
			w.watched[event.Name] = true
			w.mu.Unlock()
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if !w.extensions[ext] {
		return
	}

	w.mu.Lock()
	if timer, ok := w.debounce[event.Name]; ok {
		timer.Stop()
	}
	eventName := event.Name
	w.debounce[eventName] = time.AfterFunc(1*time.Second, func() {
		w.mu.Lock()
		delete(w.debounce, eventName)
		w.mu.Unlock()

		if isCreate {
			w.callback(eventName, true)
		}
		if isRemove && !isCreate {
			w.callback(eventName, false)
		}
	})
	w.mu.Unlock()
}
