// Package models keeps a live catalog of the model files available to the
// server, refreshed by filesystem notifications.
package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"DetStreamServer/logger"

	"github.com/fsnotify/fsnotify"
)

// Extensions tracked by the catalog. .cfg and .names ride along with darknet
// weights.
var modelExts = map[string]bool{
	".onnx":    true,
	".weights": true,
	".cfg":     true,
	".names":   true,
}

// ModelInfo describes one file in the models directory.
type ModelInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Catalog lists the model files under one directory and keeps the list
// current while Watch runs.
type Catalog struct {
	dir     string
	mu      sync.RWMutex
	files   map[string]ModelInfo
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewCatalog scans dir (creating it if needed) and returns the catalog.
func NewCatalog(dir string) (*Catalog, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	c := &Catalog{dir: abs, files: make(map[string]ModelInfo)}
	if err := c.rescan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the watched directory.
func (c *Catalog) Dir() string { return c.dir }

func isModelFile(name string) bool {
	return modelExts[strings.ToLower(filepath.Ext(name))]
}

func (c *Catalog) rescan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan models dir: %w", err)
	}
	fresh := make(map[string]ModelInfo)
	for _, e := range entries {
		if e.IsDir() || !isModelFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fresh[e.Name()] = ModelInfo{
			Name:    e.Name(),
			Path:    filepath.Join(c.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
	}
	c.mu.Lock()
	c.files = fresh
	c.mu.Unlock()
	return nil
}

// update refreshes one catalog entry from disk; missing files drop out.
func (c *Catalog) update(path string) {
	name := filepath.Base(path)
	if !isModelFile(name) {
		return
	}
	info, err := os.Stat(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		delete(c.files, name)
		return
	}
	c.files[name] = ModelInfo{
		Name:    name,
		Path:    filepath.Join(c.dir, name),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

func (c *Catalog) remove(path string) {
	c.mu.Lock()
	delete(c.files, filepath.Base(path))
	c.mu.Unlock()
}

// Watch follows create/write/remove/rename events in the models directory
// until Close. Writes are debounced so a model copied in chunks lands once.
func (c *Catalog) Watch() error {
	if c.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("model watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watcher = watcher
	c.cancel = cancel

	go func() {
		timers := make(map[string]*time.Timer)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					c.remove(event.Name)
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				path := event.Name
				if t, exists := timers[path]; exists {
					t.Stop()
				}
				timers[path] = time.AfterFunc(300*time.Millisecond, func() {
					c.update(path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.S().Warnf("model watcher: %v", err)
			}
		}
	}()
	return nil
}

// List returns the cataloged files sorted by name.
func (c *Catalog) List() []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelInfo, 0, len(c.files))
	for _, m := range c.files {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds one cataloged file by name.
func (c *Catalog) Lookup(name string) (ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.files[name]
	return m, ok
}

// Close stops the watcher. The catalog stays readable afterwards.
func (c *Catalog) Close() error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.watcher != nil {
		err := c.watcher.Close()
		c.watcher = nil
		return err
	}
	return nil
}
