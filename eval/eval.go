// Package eval implements the fold loop that replays hydrated messages
// through a process's WASM memory, the core of the Compute Unit
// (spec.md §4.G).
package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/checkpoint"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/emit"
	"github.com/aonet/cu/evalstore"
	"github.com/aonet/cu/hydrate"
	"github.com/aonet/cu/procmem"
	"github.com/aonet/cu/sortkey"
	"github.com/aonet/cu/source"
	"github.com/aonet/cu/wasmproc"
)

// Evaluator folds an ordered stream of hydrated messages into process
// memory, starting from the best available position: a cached snapshot,
// failing that a checkpoint, failing that a cold start.
type Evaluator struct {
	Cache       *procmem.Cache
	Checkpoints *checkpoint.Store
	Sources     source.Opener
	Hydrate     hydrate.Pipeline
	Results     evalstore.Store
	Proc        wasmproc.Process
	Emit        emit.Emitter
}

// Result is what Eval returns: the memory after folding through `to`, and
// the sortKey of the last message folded (empty if none were).
type Result struct {
	Memory      []byte
	LastSortKey string
}

// Eval folds all messages for processID up to (and including, per the
// Message Source's incremented-bound convention) the position named by to.
//
// A Deterministic error from the process is recorded on the evaluation and
// folding continues (spec.md §7); every other error classification halts,
// returning the memory accumulated so far alongside the error.
func (e *Evaluator) Eval(ctx context.Context, processID string, to string) (Result, error) {
	memory, fromBound, err := e.resume(ctx, processID, to)
	if err != nil {
		return Result{}, err
	}

	stream, err := e.Sources.Open(ctx, processID, fromBound, to)
	if err != nil {
		return Result{Memory: memory}, fmt.Errorf("eval: opening message source: %w", err)
	}
	hydrated := e.Hydrate.Wrap(stream)

	result := Result{Memory: memory}
	for {
		msg, ok, err := hydrated.Next(ctx)
		if err != nil {
			return result, fmt.Errorf("eval: reading hydrated message: %w", err)
		}
		if !ok {
			return result, nil
		}

		skip, err := e.alreadyEvaluated(ctx, processID, msg)
		if err != nil {
			return result, err
		}
		if skip {
			continue
		}

		out, err := e.Proc.Evaluate(ctx, result.Memory, msg)
		if err != nil {
			if cuerr.KindOf(err) != cuerr.KindDeterministic {
				return result, fmt.Errorf("eval: evaluating %s: %w", msg.SortKey, err)
			}
			out = aomsg.Output{Memory: result.Memory, Error: err.Error()}
		}

		record := aomsg.Evaluation{
			SortKey:     msg.SortKey,
			ProcessID:   processID,
			MessageID:   msg.Message.ID,
			Timestamp:   msg.AoGlobal.Block.Timestamp,
			IsCron:      msg.IsCron,
			EvaluatedAt: now(),
			Output:      out,
			DeepHash:    msg.DeepHash,
		}
		if err := e.Results.SaveEvaluation(ctx, record); err != nil {
			return result, fmt.Errorf("eval: saving evaluation for %s: %w", msg.SortKey, err)
		}

		if len(out.Memory) > 0 {
			result.Memory = out.Memory
		}
		result.LastSortKey = msg.SortKey

		if err := e.Cache.Set(procmem.Header{ProcessID: processID, SortKey: msg.SortKey, DeepHash: msg.DeepHash}, result.Memory); err != nil {
			e.emitEvent(processID, msg.SortKey, "procmem cache set failed: "+err.Error())
		}
		e.emitEvent(processID, msg.SortKey, "evaluated")
	}
}

// resume determines the starting memory and sortKey bound for a fold. Both
// the cache and the checkpoint store are consulted, bounded by to: the
// checkpoint wins only when its position is not later than to and strictly
// later than whatever the cache holds (spec.md §8 scenario 6); otherwise the
// cache wins, and cold start is the fallback when neither is available.
func (e *Evaluator) resume(ctx context.Context, processID, to string) (memory []byte, fromBound string, err error) {
	entry, cacheHit, cerr := e.Cache.Get(processID)
	if cerr != nil {
		cacheHit = false
	}

	toParts, perr := sortkey.Split(to)
	if perr != nil {
		return nil, "", fmt.Errorf("eval: parsing resume bound %q: %w", to, perr)
	}
	bound := checkpoint.DiscoverParams{ProcessID: processID, Timestamp: math.MaxInt64}
	if toParts.NFields >= 2 {
		// to names an explicit timestamp: bound the checkpoint search to it.
		// A height-only to carries no timestamp at all, so it is treated as
		// unbounded rather than as a bound of zero.
		bound.Timestamp = int64(toParts.Timestamp)
	}

	snap, derr := e.Checkpoints.Discover(ctx, bound)
	switch {
	case derr == nil:
		checkpointKey := fmt.Sprintf("%d,%d", snap.BlockHeight, snap.Timestamp)
		if !cacheHit {
			return snap.Memory, checkpointKey, nil
		}
		if cmp, cmpErr := sortkey.Compare(checkpointKey, entry.Header.SortKey); cmpErr == nil && cmp > 0 {
			return snap.Memory, checkpointKey, nil
		}
	case !cuerr.DegradesToColdStart(derr):
		return nil, "", fmt.Errorf("eval: discovering checkpoint for %s: %w", processID, derr)
	}

	if cacheHit {
		if entry.Stale {
			e.emitEvent(processID, entry.Header.SortKey, "serving stale cached memory")
		}
		return entry.Memory, entry.Header.SortKey, nil
	}

	e.emitEvent(processID, "", "cold start: no cache or checkpoint")
	return nil, "0", nil
}

// alreadyEvaluated implements the pre-fold dedup/idempotent-replay check
// (spec.md §4.G step 5): a forwarded message already recorded under its
// deepHash, or a message already recorded under its messageId, is skipped
// rather than re-folded.
func (e *Evaluator) alreadyEvaluated(ctx context.Context, processID string, msg aomsg.Message) (bool, error) {
	if msg.DeepHash != "" {
		_, err := e.Results.FindByDeepHash(ctx, processID, msg.DeepHash)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, evalstore.ErrNotFound) {
			return false, fmt.Errorf("eval: checking deep-hash dedup: %w", err)
		}
	}
	if msg.Message.ID != "" {
		_, err := e.Results.FindMessageID(ctx, processID, msg.Message.ID)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, evalstore.ErrNotFound) {
			return false, fmt.Errorf("eval: checking message-id dedup: %w", err)
		}
	}
	return false, nil
}

func (e *Evaluator) emitEvent(processID, sortKey, msg string) {
	if e.Emit == nil {
		return
	}
	e.Emit.Emit(emit.Event{ProcessID: processID, SortKey: sortKey, Msg: msg})
}

// now is a seam so tests can freeze evaluation timestamps.
var now = time.Now
