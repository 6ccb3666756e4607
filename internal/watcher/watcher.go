// Package watcher watches a drop folder for highlight export files and
// feeds them through the importer. Dropping a Kindle "My Clippings.txt"
// or an HTML export into the folder imports it without touching the API.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marginalia-app/marginalia-server/internal/importer"
	"github.com/marginalia-app/marginalia-server/internal/service"
)

// settleDelay is how long a file must stay quiet after its last write
// before it is processed. Exports are copied in, not written atomically,
// so acting on the first event would read partial files.
const settleDelay = 500 * time.Millisecond

// processed files are renamed with these suffixes so a restart does not
// import them again.
const (
	doneSuffix   = ".imported"
	failedSuffix = ".failed"
)

// ImportService is the slice of the highlight service the watcher uses.
type ImportService interface {
	Import(ctx context.Context, ownerID string, entries []importer.Entry) (*service.ImportResult, error)
}

// Watcher watches one drop folder and imports files for one owner.
type Watcher struct {
	path       string
	ownerID    string
	highlights ImportService
	logger     *slog.Logger

	fw     *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher for the given drop folder. The folder is created
// if it does not exist.
func New(path, ownerID string, highlights ImportService, logger *slog.Logger) (*Watcher, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("watcher requires an owner for imported highlights")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create drop folder: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	return &Watcher{
		path:       path,
		ownerID:    ownerID,
		highlights: highlights,
		logger:     logger,
		fw:         fw,
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. Files already sitting in the folder are imported
// first so exports dropped while the server was down are not lost.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	if err := w.catchUp(ctx); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("watching import drop folder", "path", w.path, "owner_id", w.ownerID)
	return nil
}

// Close stops watching and waits for in-flight imports to finish.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fw.Close()

	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

// catchUp imports importable files already present in the folder.
func (w *Watcher) catchUp(ctx context.Context) error {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return fmt.Errorf("read drop folder: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.path, entry.Name())
		if !importable(path) {
			continue
		}
		w.process(ctx, path)
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !importable(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("drop folder watch error", "error", err)
		}
	}
}

// schedule arms (or re-arms) the settle timer for a file. The import runs
// once writes stop arriving for settleDelay.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.wg.Add(1)
		defer w.wg.Done()
		w.process(ctx, path)
	})
}

// process parses and imports one file, then renames it so it will not be
// picked up again.
func (w *Watcher) process(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		// Likely renamed or removed between the event and now.
		w.logger.Warn("cannot open dropped file", "path", path, "error", err)
		return
	}

	var entries []importer.Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		entries, err = importer.ParseHTML(f)
	default:
		entries, err = importer.ParseClippings(f)
	}
	f.Close()

	if err != nil {
		w.logger.Error("failed to parse dropped file", "path", path, "error", err)
		w.markDone(path, failedSuffix)
		return
	}

	result, err := w.highlights.Import(ctx, w.ownerID, entries)
	if err != nil {
		w.logger.Error("failed to import dropped file", "path", path, "error", err)
		w.markDone(path, failedSuffix)
		return
	}

	w.logger.Info("imported dropped file",
		"path", path,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"new_books", result.Books,
	)
	w.markDone(path, doneSuffix)
}

func (w *Watcher) markDone(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		w.logger.Warn("failed to rename processed file", "path", path, "error", err)
	}
}

// importable reports whether a path looks like an unprocessed export.
func importable(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, doneSuffix) || strings.HasSuffix(name, failedSuffix) {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(name) {
	case ".txt", ".html", ".htm":
		return true
	}
	return false
}
