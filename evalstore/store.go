// Package evalstore persists one JSON document per evaluation, keyed by
// process and sortKey, so the Evaluator can resume a fold and dedupe
// forwarded messages by deep hash (spec.md §4.H).
package evalstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aonet/cu/aomsg"
)

// ErrNotFound is returned when a requested evaluation does not exist.
var ErrNotFound = errors.New("evalstore: not found")

// Store is the persistence boundary for evaluations. Two backends are
// provided: SQLiteStore (default) and MySQLStore (selected when
// config.MySQLDSN is set).
type Store interface {
	// SaveEvaluation persists one evaluation document, keyed by
	// (ProcessID, SortKey). Re-saving the same key overwrites it, which is
	// safe: the fold loop only ever (re)computes a sortKey's evaluation
	// deterministically from the same inputs.
	SaveEvaluation(ctx context.Context, e aomsg.Evaluation) error

	// FindLatestEvaluation returns the evaluation with the greatest
	// sortKey for processID, or ErrNotFound if none exist.
	FindLatestEvaluation(ctx context.Context, processID string) (aomsg.Evaluation, error)

	// FindEvaluations returns evaluations for processID with sortKey in
	// [from, to), ordered ascending.
	FindEvaluations(ctx context.Context, processID string, from, to string) ([]aomsg.Evaluation, error)

	// FindMessageID returns the evaluation whose MessageID matches id, for
	// idempotent-replay detection, or ErrNotFound.
	FindMessageID(ctx context.Context, processID, messageID string) (aomsg.Evaluation, error)

	// FindByDeepHash returns the evaluation whose DeepHash matches hash,
	// for forwarded-message dedup, or ErrNotFound.
	FindByDeepHash(ctx context.Context, processID, hash string) (aomsg.Evaluation, error)
}

// docKey renders the exact key scheme required by spec.md §6:
// "proc-{processId}:{sortKey}" per evaluation and "proc-{processId}" for
// the process header. Both backends share this helper so the scheme is
// never reimplemented twice.
func docKey(processID, sortKey string) string {
	if sortKey == "" {
		return fmt.Sprintf("proc-%s", processID)
	}
	return fmt.Sprintf("proc-%s:%s", processID, sortKey)
}
