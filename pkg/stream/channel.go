// Package stream is the per-run output channel: one exclusive writer at a
// time, any number of non-destructive readers, a replayable backlog, and a
// durable chunk log backing reconnects across process restarts.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"draftflow/pkg/logger"
	"draftflow/pkg/models"
)

// ErrClosed is returned for writes on a finalized channel.
var ErrClosed = errors.New("stream channel closed")

// Channel is the logical output stream for one run.
type Channel struct {
	runID string

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []models.Chunk
	closed  bool

	// writerSem enforces the single-writer discipline; capacity one.
	writerSem chan struct{}

	log *ChunkLog
}

func newChannel(runID string, log *ChunkLog, backlog []models.Chunk, closed bool) *Channel {
	c := &Channel{
		runID:     runID,
		backlog:   backlog,
		closed:    closed,
		writerSem: make(chan struct{}, 1),
		log:       log,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// RunID returns the run this channel belongs to.
func (c *Channel) RunID() string { return c.runID }

// Writer acquires the exclusive write handle, blocking until the current
// holder releases it or ctx is done. Callers must Release on every exit
// path; a held handle is the only thing that can append to the backlog.
func (c *Channel) Writer(ctx context.Context) (*Writer, error) {
	select {
	case c.writerSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		<-c.writerSem
		return nil, ErrClosed
	}
	return &Writer{ch: c}, nil
}

// Writer is the exclusive write handle for a channel.
type Writer struct {
	ch   *Channel
	once sync.Once
}

// Write appends a typed chunk to the backlog, persists it to the chunk
// log, and wakes attached readers. Write order is delivery order.
func (w *Writer) Write(chunk models.Chunk) error {
	c := w.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.log != nil {
		if err := c.log.Append(chunk); err != nil {
			logger.Error("chunk_log_append_failed", "run", c.runID, "error", err)
			return err
		}
	}
	c.backlog = append(c.backlog, chunk)
	ChunksWritten.Inc()
	c.cond.Broadcast()
	return nil
}

// Release gives up the write handle. Safe to call more than once.
func (w *Writer) Release() {
	w.once.Do(func() { <-w.ch.writerSem })
}

// Close finalizes the backlog; no further writes are accepted and blocked
// readers drain to EOF once they reach the end.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	if c.log != nil {
		if err := c.log.Close(); err != nil {
			logger.Error("chunk_log_close_failed", "run", c.runID, "error", err)
			return err
		}
	}
	return nil
}

// Closed reports whether the channel has been finalized.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the current backlog length.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.backlog)
}

// Attach returns a reader positioned at the given backlog offset. Readers
// never block writers and never consume the backlog destructively.
func (c *Channel) Attach(offset int) *Reader {
	if offset < 0 {
		offset = 0
	}
	return &Reader{ch: c, pos: offset}
}

// Reader iterates a channel's backlog and then follows live writes.
type Reader struct {
	ch  *Channel
	pos int
}

// Next returns the next chunk, blocking until one is available, the
// channel closes (io.EOF) or ctx is done.
func (r *Reader) Next(ctx context.Context) (models.Chunk, error) {
	c := r.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	for r.pos >= len(c.backlog) {
		if c.closed {
			return models.Chunk{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return models.Chunk{}, err
		}
		stop := context.AfterFunc(ctx, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		})
		c.cond.Wait()
		stop()
	}
	chunk := c.backlog[r.pos]
	r.pos++
	return chunk, nil
}

// Offset returns the reader's current backlog position.
func (r *Reader) Offset() int { return r.pos }
