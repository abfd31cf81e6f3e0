package engine

import (
	"draftflow/pkg/models"
	"draftflow/pkg/store"
	"draftflow/pkg/stream"
)

// Resumption reattaches late or reconnecting clients to a run's stream
// backlog. Disconnects never cancel a run, so a reader attached after the
// fact observes the same chunk sequence an original reader did.
type Resumption struct {
	Streams *stream.Registry
}

// Attach returns a reader positioned at offset for the given run, serving
// live channels first and falling back to chunk-log recovery after a
// restart. Unknown run ids surface stream.ErrUnknownRun.
func (r *Resumption) Attach(runID string, offset int) (*stream.Reader, error) {
	ch, err := r.Streams.Lookup(runID)
	if err != nil {
		return nil, err
	}
	return ch.Attach(offset), nil
}

// Status returns the persisted run record: marker present means "still
// running, stream resumable"; absent means "complete, parts fully written".
func (r *Resumption) Status(runID string) (models.Run, error) {
	return store.GetRun(runID)
}
