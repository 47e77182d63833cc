package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"formpost/config"
)

// Recorder accepts records for persistence.
type Recorder interface {
	Record(rec *Record)
	Close() error
}

// maxBatch is the number of queued records that forces a flush.
const maxBatch = 100

// Writer persists records asynchronously in batches. Records are flushed
// when maxBatch accumulate, on every tick of the flush interval and on Close.
type Writer struct {
	store         Store
	buffer        chan *Record
	done          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
	flushInterval time.Duration
}

// NewWriter starts the background flush loop.
func NewWriter(store Store, cfg config.HistoryConfig) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	w := &Writer{
		store:         store,
		buffer:        make(chan *Record, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	w.wg.Add(1)
	go w.flushLoop()

	return w
}

// Record queues rec without blocking. When the buffer is full the record is
// dropped with a warning.
func (w *Writer) Record(rec *Record) {
	if rec == nil {
		return
	}

	select {
	case <-w.done:
		slog.Warn("history writer closed, dropping record", "id", rec.ID)
		return
	default:
	}

	select {
	case w.buffer <- rec:
	default:
		slog.Warn("history buffer full, dropping record",
			"id", rec.ID,
			"host", rec.Host,
			"task_id", rec.TaskID,
		)
	}
}

// Close stops the flush loop after writing everything still queued. The
// store itself is left open.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, maxBatch)

	for {
		select {
		case rec := <-w.buffer:
			batch = append(batch, rec)
			if len(batch) >= maxBatch {
				w.flushBatch(batch)
				batch = make([]*Record, 0, maxBatch)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = make([]*Record, 0, maxBatch)
			}

		case <-w.done:
			// Record may still be racing with Close, so drain without closing
			// the channel.
			for {
				select {
				case rec := <-w.buffer:
					batch = append(batch, rec)
				default:
					w.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (w *Writer) flushBatch(batch []*Record) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.store.CreateBatch(ctx, batch); err != nil {
		slog.Error("failed to write history batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopWriter discards records. It is used when history is disabled.
type NoopWriter struct{}

// Record does nothing.
func (NoopWriter) Record(*Record) {}

// Close does nothing.
func (NoopWriter) Close() error { return nil }
