// Package engine sequences the durable chat workflow: persist input,
// create a resumable run record, load history, route, stream agent output,
// persist results and clear the resumability marker.
package engine

import (
	"context"
	"fmt"

	"draftflow/pkg/logger"
	"draftflow/pkg/store"
)

// StepKey identifies one durable step of one run. Keys are stable across
// re-drives of the same run; that stability is what makes replay safe.
type StepKey struct {
	RunID string
	Index int
}

// StepRunner executes side-effecting steps exactly once per key. If a
// result for the key is already logged, Do returns it without running fn.
// Store writes made by fn must go through the supplied transaction; the
// runner commits them together with the step-log row.
type StepRunner interface {
	Do(ctx context.Context, key StepKey, fn func(ctx context.Context, tx *store.Txn) ([]byte, error)) ([]byte, bool, error)
}

// StoreRunner is the store-backed StepRunner: results live in
// run:<id>:step:<index> rows next to the data they describe.
type StoreRunner struct{}

// Do replays the logged result when present, otherwise runs fn inside a
// fresh transaction and commits fn's writes and the step-log row as one
// synced batch. A crash therefore lands on a step boundary: either the
// whole step happened and is logged, or none of its rows exist. The bool
// return reports a replay.
func (StoreRunner) Do(ctx context.Context, key StepKey, fn func(ctx context.Context, tx *store.Txn) ([]byte, error)) ([]byte, bool, error) {
	if data, ok, err := store.GetStepResult(key.RunID, key.Index); err != nil {
		return nil, false, err
	} else if ok {
		StepsReplayed.Inc()
		logger.Debug("step_replayed", "run", key.RunID, "step", key.Index)
		return data, true, nil
	}
	tx, err := store.NewTxn()
	if err != nil {
		return nil, false, err
	}
	data, err := fn(ctx, tx)
	if err != nil {
		tx.Discard()
		return nil, false, err
	}
	if err := tx.SaveStepResult(key.RunID, key.Index, data); err != nil {
		tx.Discard()
		return nil, false, fmt.Errorf("failed to log step result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit step: %w", err)
	}
	return data, false, nil
}
