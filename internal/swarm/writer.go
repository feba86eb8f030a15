package swarm

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/dshills/codeknow/internal/checkpoint"
)

// ErrWriterClosed is returned by Enqueue after Close
var ErrWriterClosed = errors.New("checkpoint writer closed")

// WriterStats counts what the writer did
type WriterStats struct {
	Requested int
	Saved     int
	Failed    int
}

// Writer serializes durable checkpoint saves on a single goroutine. Saves
// never overlap and run in request order. Requests that arrive while a save
// is in flight are coalesced into one follow-up save; since every save reads
// the live checkpoint, it records at least the progress that existed when
// each coalesced request was made.
type Writer struct {
	save    func() error
	pending chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	stats  WriterStats
	errs   []error
}

// NewWriter starts a writer that calls save for every (coalesced) request
func NewWriter(save func() error) *Writer {
	w := &Writer{
		save:    save,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// NewCheckpointWriter starts a writer that persists cp to path
func NewCheckpointWriter(path string, cp *checkpoint.Checkpoint) *Writer {
	return NewWriter(func() error {
		return checkpoint.Save(path, cp)
	})
}

func (w *Writer) loop() {
	defer close(w.done)
	for range w.pending {
		err := w.save()

		w.mu.Lock()
		if err != nil {
			w.stats.Failed++
			w.errs = append(w.errs, err)
		} else {
			w.stats.Saved++
		}
		w.mu.Unlock()

		if err != nil {
			slog.Warn("swarm.checkpoint.save_failed", "error", err)
		}
	}
}

// Enqueue requests a save. It never blocks.
func (w *Writer) Enqueue() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.stats.Requested++
	select {
	case w.pending <- struct{}{}:
	default:
		// a save that has not started yet will pick this request up
	}
	return nil
}

// Close waits for outstanding saves and returns every save error joined.
// Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.pending)
	}
	w.mu.Unlock()

	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.errs...)
}

// Stats returns the writer's counters
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
