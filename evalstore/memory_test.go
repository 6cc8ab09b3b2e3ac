package evalstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aonet/cu/aomsg"
)

func TestMemStoreSaveAndFindLatest(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.SaveEvaluation(ctx, aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000001,1,a"})
	_ = s.SaveEvaluation(ctx, aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000002,1,b"})

	latest, err := s.FindLatestEvaluation(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.SortKey != "000000000002,1,b" {
		t.Fatalf("got %q", latest.SortKey)
	}
}

func TestMemStoreFindLatestNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.FindLatestEvaluation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestMemStoreFindEvaluationsRange(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	for _, sk := range []string{"000000000001,1,a", "000000000002,1,b", "000000000003,1,c"} {
		_ = s.SaveEvaluation(ctx, aomsg.Evaluation{ProcessID: "p1", SortKey: sk})
	}

	got, err := s.FindEvaluations(ctx, "p1", "000000000001,1,a", "000000000003,1,c")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 evaluations in [from,to), got %d", len(got))
	}
}

func TestMemStoreFindMessageID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.SaveEvaluation(ctx, aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000001,1,a", MessageID: "m1"})

	got, err := s.FindMessageID(ctx, "p1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SortKey != "000000000001,1,a" {
		t.Fatalf("got %+v", got)
	}
	_, err = s.FindMessageID(ctx, "p1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemStoreFindByDeepHash(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.SaveEvaluation(ctx, aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000001,1,a", DeepHash: "hash1"})

	got, err := s.FindByDeepHash(ctx, "p1", "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SortKey != "000000000001,1,a" {
		t.Fatalf("got %+v", got)
	}
}

func TestDocKeyScheme(t *testing.T) {
	if docKey("p1", "sk") != "proc-p1:sk" {
		t.Fatalf("got %q", docKey("p1", "sk"))
	}
	if docKey("p1", "") != "proc-p1" {
		t.Fatalf("got %q", docKey("p1", ""))
	}
}
