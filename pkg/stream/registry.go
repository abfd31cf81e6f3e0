package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"draftflow/pkg/models"
)

// ErrUnknownRun is returned when no channel or chunk log exists for a run.
var ErrUnknownRun = errors.New("unknown run")

// Registry owns the live channels and their on-disk chunk logs.
type Registry struct {
	dir       string
	syncEach  bool
	maxRecord int64

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry creates the chunk-log directory and an empty registry.
func NewRegistry(dir string, syncEach bool, maxRecord int64) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("stream registry requires a chunk log dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stream dir: %w", err)
	}
	return &Registry{
		dir:       dir,
		syncEach:  syncEach,
		maxRecord: maxRecord,
		channels:  make(map[string]*Channel),
	}, nil
}

// LogPath returns the chunk log path for a run.
func (r *Registry) LogPath(runID string) string {
	return filepath.Join(r.dir, runID+".chunks")
}

// Open returns the channel for runID, creating it (and its chunk log) if
// needed. Re-opening after a restart recovers the persisted backlog; a
// backlog whose last chunk is finish comes back already closed.
func (r *Registry) Open(runID string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[runID]; ok {
		return c, nil
	}
	log, backlog, err := OpenChunkLog(r.LogPath(runID), r.syncEach, r.maxRecord)
	if err != nil {
		return nil, err
	}
	closed := len(backlog) > 0 && backlog[len(backlog)-1].Type == models.ChunkFinish
	if closed {
		_ = log.Close()
		log = nil
	}
	c := newChannel(runID, log, backlog, closed)
	r.channels[runID] = c
	return c, nil
}

// Lookup returns the channel for runID without creating one: live channels
// first, then recovery from an existing chunk log. Missing both means the
// run id is unknown.
func (r *Registry) Lookup(runID string) (*Channel, error) {
	r.mu.Lock()
	if c, ok := r.channels[runID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()
	if _, err := os.Stat(r.LogPath(runID)); err != nil {
		return nil, ErrUnknownRun
	}
	return r.Open(runID)
}

// Remove drops the channel from the registry and deletes its chunk log.
// Only call for finalized runs.
func (r *Registry) Remove(runID string) error {
	r.mu.Lock()
	c, ok := r.channels[runID]
	delete(r.channels, runID)
	r.mu.Unlock()
	if ok {
		_ = c.Close()
	}
	if err := os.Remove(r.LogPath(runID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Dir returns the chunk-log directory.
func (r *Registry) Dir() string { return r.dir }
