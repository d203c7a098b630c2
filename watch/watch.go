// Package watch reports changes to requirement and drawing documents so that
// validation can be re-run while documents are being edited.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/codecomply/ingest"
)

const (
	// batchChannelBuffer is the size of the change batch channel.
	batchChannelBuffer = 16

	defaultDebounce = 500 * time.Millisecond
)

// Config configures a Watcher.
type Config struct {
	// DebounceDelay is how long to collect changes before emitting a batch.
	DebounceDelay time.Duration
	// Extensions lists extensions of files, other than the initial inputs,
	// that count as inputs when they appear in a watched directory.
	Extensions []string
}

// Operation indicates the type of file operation.
type Operation string

// Operations.
const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Event is one changed input file.
type Event struct {
	Path      string
	Operation Operation
}

// Watcher watches the directories holding input documents. Changes are
// debounced and content-hashed so that a save without edits emits nothing.
type Watcher struct {
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	files      map[string]bool
	extensions map[string]bool

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	hashMu sync.Mutex
	hashes map[string]string

	batches chan []Event

	droppedBatches atomic.Int64
}

// New creates a watcher for the given input files. The files' directories
// are watched; nothing is observed until Start.
func New(cfg Config, files []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceDelay
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		debounce:   debounce,
		watcher:    fsw,
		logger:     logger,
		files:      make(map[string]bool, len(files)),
		extensions: make(map[string]bool, len(cfg.Extensions)),
		pending:    make(map[string]fsnotify.Op),
		hashes:     make(map[string]string),
		batches:    make(chan []Event, batchChannelBuffer),
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.extensions[strings.ToLower(ext)] = true
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
		if content, err := os.ReadFile(abs); err == nil {
			w.hashes[abs] = ingest.ContentHash(content)
		}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
		logger.Debug("Watching directory", "path", dir)
	}
	return w, nil
}

// Batches returns the channel of debounced change batches. It is closed when
// the watcher stops.
func (w *Watcher) Batches() <-chan []Event {
	return w.batches
}

// Start begins processing file system events until ctx is cancelled or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
	w.logger.Info("Input watcher started",
		"files", len(w.files),
		"debounce", w.debounce)
}

// Stop stops the watcher. The batch channel is closed by processEvents when
// it exits.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// DroppedBatches returns the number of batches dropped because the consumer
// fell behind.
func (w *Watcher) DroppedBatches() int64 {
	return w.droppedBatches.Load()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.batches)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			if batch := w.flushPending(); len(batch) > 0 {
				w.send(batch)
			}
		}
	}
}

// relevant reports whether path is an input: one of the initial files or a
// file with a watched extension.
func (w *Watcher) relevant(path string) bool {
	return w.files[path] || w.extensions[strings.ToLower(filepath.Ext(path))]
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !w.relevant(event.Name) {
		return
	}
	w.pendingMu.Lock()
	w.pending[event.Name] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Input change detected", "path", event.Name, "op", event.Op.String())
}

// flushPending turns accumulated changes into events, dropping files whose
// content did not change.
func (w *Watcher) flushPending() []Event {
	w.pendingMu.Lock()
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	var batch []Event
	for path := range toProcess {
		content, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			w.hashMu.Lock()
			_, known := w.hashes[path]
			delete(w.hashes, path)
			w.hashMu.Unlock()
			if known {
				batch = append(batch, Event{Path: path, Operation: OpDelete})
			}
			continue
		}
		if err != nil {
			w.logger.Warn("Failed to read file for hash check", "path", path, "error", err)
			continue
		}

		hash := ingest.ContentHash(content)
		w.hashMu.Lock()
		old, had := w.hashes[path]
		w.hashes[path] = hash
		w.hashMu.Unlock()

		switch {
		case !had:
			batch = append(batch, Event{Path: path, Operation: OpCreate})
		case old != hash:
			batch = append(batch, Event{Path: path, Operation: OpModify})
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

func (w *Watcher) send(batch []Event) {
	select {
	case w.batches <- batch:
	default:
		dropped := w.droppedBatches.Add(1)
		w.logger.Warn("Batch channel full, dropping changes",
			"changes", len(batch),
			"total_dropped", dropped)
	}
}
