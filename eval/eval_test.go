package eval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/checkpoint"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/evalstore"
	"github.com/aonet/cu/hydrate"
	"github.com/aonet/cu/procmem"
	"github.com/aonet/cu/sortkey"
	"github.com/aonet/cu/source"
	"github.com/aonet/cu/wasmproc"
)

func init() {
	now = func() time.Time { return time.Unix(0, 0) }
}

func msg(sortKey, id string) aomsg.Message {
	return aomsg.Message{
		SortKey: sortKey,
		Message: aomsg.MessageBody{ID: id, Owner: "o", Target: "t", From: "f"},
	}
}

// singlePageClient serves all of its messages as one descending SU page, so
// source.Stream hands them back to the Evaluator in ascending order.
type singlePageClient struct{ messages []aomsg.Message }

func (c singlePageClient) FetchPage(_ context.Context, _ string, _, _ sortkey.SortKey, _ string) (source.Page, error) {
	ris := make([]source.RawInteraction, len(c.messages))
	for i, m := range c.messages {
		ris[i] = source.RawInteraction{SortKey: m.SortKey, Message: m}
	}
	for i, j := 0, len(ris)-1; i < j; i, j = i+1, j-1 {
		ris[i], ris[j] = ris[j], ris[i]
	}
	return source.Page{Interactions: ris}, nil
}

type emptyGateway struct{}

func (emptyGateway) FindCheckpoints(context.Context, checkpoint.Query, int) ([]aomsg.Checkpoint, error) {
	return nil, fmt.Errorf("none: %w", cuerr.ErrNotFound)
}
func (emptyGateway) Download(context.Context, string) ([]byte, error) { return nil, cuerr.ErrNotFound }
func (emptyGateway) Upload(context.Context, checkpoint.SignedItem) (string, error) {
	return "", nil
}

func newEvaluator(messages []aomsg.Message, proc wasmproc.Process) (*Evaluator, *evalstore.MemStore) {
	results := evalstore.NewMemStore()
	return &Evaluator{
		Cache:       procmem.New(1<<20, time.Hour, nil),
		Checkpoints: &checkpoint.Store{Gateway: emptyGateway{}},
		Sources:     source.NewOpener(singlePageClient{messages: messages}),
		Hydrate:     hydrate.Pipeline{},
		Results:     results,
		Proc:        proc,
	}, results
}

func TestEvalColdStartFoldsAllMessages(t *testing.T) {
	messages := []aomsg.Message{msg("000000000001,1,a", "m1"), msg("000000000002,2,b", "m2")}
	proc := &wasmproc.MockProcess{Fold: func(memory []byte, m aomsg.Message) aomsg.Output {
		return aomsg.Output{Memory: append(memory, []byte(m.Message.ID)...)}
	}}
	evaluator, results := newEvaluator(messages, proc)

	res, err := evaluator.Eval(context.Background(), "p1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Memory) != "m1m2" {
		t.Fatalf("got %q", res.Memory)
	}
	if proc.CallCount() != 2 {
		t.Fatalf("expected 2 folds, got %d", proc.CallCount())
	}

	latest, err := results.FindLatestEvaluation(context.Background(), "p1")
	if err != nil || latest.SortKey != "000000000002,2,b" {
		t.Fatalf("got %+v err %v", latest, err)
	}
}

// detErrOnFirst wraps a Process so its first call returns a Deterministic
// error and subsequent calls delegate to inner, for testing that a
// deterministic error is recorded but does not halt the fold.
type detErrOnFirst struct {
	inner wasmproc.Process
	calls int
}

func (d *detErrOnFirst) Evaluate(ctx context.Context, memory []byte, msg aomsg.Message) (aomsg.Output, error) {
	d.calls++
	if d.calls == 1 {
		return aomsg.Output{}, fmt.Errorf("contract panicked: %w", cuerr.ErrDeterministic)
	}
	return d.inner.Evaluate(ctx, memory, msg)
}

func TestEvalDeterministicErrorContinues(t *testing.T) {
	messages := []aomsg.Message{msg("000000000001,1,a", "m1"), msg("000000000002,2,b", "m2")}
	inner := &wasmproc.MockProcess{Fold: func(memory []byte, m aomsg.Message) aomsg.Output {
		return aomsg.Output{Memory: append(memory, []byte(m.Message.ID)...)}
	}}
	wrapped := &detErrOnFirst{inner: inner}
	evaluator, results := newEvaluator(messages, wrapped)

	res, err := evaluator.Eval(context.Background(), "p1", "2")
	if err != nil {
		t.Fatalf("deterministic error must not halt: %v", err)
	}
	if string(res.Memory) != "m2" {
		t.Fatalf("expected only m2's fold to apply memory, got %q", res.Memory)
	}

	first, err := results.FindMessageID(context.Background(), "p1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Output.Error == "" {
		t.Fatal("expected the deterministic error to be recorded on the evaluation")
	}
}

func TestEvalHaltsOnFatalError(t *testing.T) {
	messages := []aomsg.Message{msg("000000000001,1,a", "m1")}
	proc := &wasmproc.MockProcess{Err: fmt.Errorf("disk full: %w", cuerr.ErrFatal)}
	evaluator, _ := newEvaluator(messages, proc)

	_, err := evaluator.Eval(context.Background(), "p1", "1")
	if err == nil {
		t.Fatal("expected a fatal error to halt the fold")
	}
	if cuerr.KindOf(err) != cuerr.KindFatal {
		t.Fatalf("got %v", err)
	}
}

func TestEvalSkipsAlreadyEvaluatedMessageID(t *testing.T) {
	messages := []aomsg.Message{msg("000000000001,1,a", "m1")}
	proc := &wasmproc.MockProcess{Fold: func(memory []byte, m aomsg.Message) aomsg.Output {
		return aomsg.Output{Memory: append(memory, []byte(m.Message.ID)...)}
	}}
	evaluator, results := newEvaluator(messages, proc)

	ctx := context.Background()
	_ = results.SaveEvaluation(ctx, aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000001,1,a", MessageID: "m1"})

	res, err := evaluator.Eval(ctx, "p1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if proc.CallCount() != 0 {
		t.Fatal("expected the already-evaluated message to be skipped, not folded")
	}
	if len(res.Memory) != 0 {
		t.Fatalf("expected no memory change, got %q", res.Memory)
	}
}

func TestEvalSkipsAlreadyEvaluatedDeepHash(t *testing.T) {
	m := msg("000000000001,1,a", "m1")
	m.DeepHash = "dup-hash"
	proc := &wasmproc.MockProcess{}
	evaluator, results := newEvaluator([]aomsg.Message{m}, proc)

	ctx := context.Background()
	_ = results.SaveEvaluation(ctx, aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000000,0,x", DeepHash: "dup-hash"})

	_, err := evaluator.Eval(ctx, "p1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if proc.CallCount() != 0 {
		t.Fatal("expected the forwarded duplicate to be skipped by deep-hash dedup")
	}
}

// scriptedGateway serves a single fixed checkpoint transaction, for testing
// checkpoint-vs-cache resume contention.
type scriptedGateway struct {
	checkpoint aomsg.Checkpoint
	memory     []byte
}

func (g scriptedGateway) FindCheckpoints(context.Context, checkpoint.Query, int) ([]aomsg.Checkpoint, error) {
	return []aomsg.Checkpoint{g.checkpoint}, nil
}
func (g scriptedGateway) Download(context.Context, string) ([]byte, error) {
	return g.memory, nil
}
func (scriptedGateway) Upload(context.Context, checkpoint.SignedItem) (string, error) {
	return "", nil
}

func TestEvalResumesFromCheckpointWhenLaterThanCache(t *testing.T) {
	messages := []aomsg.Message{msg("000000000003,3,c", "m3")}
	proc := &wasmproc.MockProcess{Fold: func(memory []byte, m aomsg.Message) aomsg.Output {
		return aomsg.Output{Memory: append(memory, []byte(m.Message.ID)...)}
	}}
	evaluator, _ := newEvaluator(messages, proc)
	evaluator.Checkpoints = &checkpoint.Store{Gateway: scriptedGateway{
		checkpoint: aomsg.Checkpoint{BlockHeight: 2, Timestamp: 2},
		memory:     []byte("checkpoint-start"),
	}}

	if err := evaluator.Cache.Set(procmem.Header{ProcessID: "p1", SortKey: "000000000001,1,a"}, []byte("warm-start")); err != nil {
		t.Fatal(err)
	}

	res, err := evaluator.Eval(context.Background(), "p1", "3")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Memory) != "checkpoint-startm3" {
		t.Fatalf("expected resume from the later checkpoint over the stale cache, got %q", res.Memory)
	}
}

func TestEvalPrefersCacheOverCheckpointNotLaterThanIt(t *testing.T) {
	messages := []aomsg.Message{msg("000000000003,3,c", "m3")}
	proc := &wasmproc.MockProcess{Fold: func(memory []byte, m aomsg.Message) aomsg.Output {
		return aomsg.Output{Memory: append(memory, []byte(m.Message.ID)...)}
	}}
	evaluator, _ := newEvaluator(messages, proc)
	evaluator.Checkpoints = &checkpoint.Store{Gateway: scriptedGateway{
		checkpoint: aomsg.Checkpoint{BlockHeight: 1, Timestamp: 1},
		memory:     []byte("checkpoint-start"),
	}}

	if err := evaluator.Cache.Set(procmem.Header{ProcessID: "p1", SortKey: "000000000002,2,b"}, []byte("warm-start")); err != nil {
		t.Fatal(err)
	}

	res, err := evaluator.Eval(context.Background(), "p1", "3")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Memory) != "warm-startm3" {
		t.Fatalf("expected the cache (ahead of the checkpoint) to win, got %q", res.Memory)
	}
}

func TestEvalResumesFromCache(t *testing.T) {
	messages := []aomsg.Message{msg("000000000002,2,b", "m2")}
	proc := &wasmproc.MockProcess{Fold: func(memory []byte, m aomsg.Message) aomsg.Output {
		return aomsg.Output{Memory: append(memory, []byte(m.Message.ID)...)}
	}}
	evaluator, _ := newEvaluator(messages, proc)

	if err := evaluator.Cache.Set(procmem.Header{ProcessID: "p1", SortKey: "000000000001,1,a"}, []byte("warm-start")); err != nil {
		t.Fatal(err)
	}

	res, err := evaluator.Eval(context.Background(), "p1", "2")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Memory) != "warm-startm2" {
		t.Fatalf("expected resume from cached memory, got %q", res.Memory)
	}
}
