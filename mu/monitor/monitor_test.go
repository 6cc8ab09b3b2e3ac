package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/checkpoint"
	"github.com/aonet/cu/mu/cranker"
)

type memStore struct {
	mu        sync.Mutex
	monitors  map[string]aomsg.Monitor
	persisted map[string][]ScheduledMessage
}

func newMemStore(monitors ...aomsg.Monitor) *memStore {
	s := &memStore{monitors: map[string]aomsg.Monitor{}, persisted: map[string][]ScheduledMessage{}}
	for _, m := range monitors {
		s.monitors[m.ID] = m
	}
	return s
}

func (s *memStore) ListMonitors(context.Context) ([]aomsg.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []aomsg.Monitor
	for _, m := range s.monitors {
		out = append(out, m)
	}
	return out, nil
}

func (s *memStore) SaveMonitor(_ context.Context, m aomsg.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors[m.ID] = m
	return nil
}

func (s *memStore) PersistScheduled(_ context.Context, processID, fromTxID string, msgs []ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted[processID+":"+fromTxID] = msgs
	return nil
}

type fixedCU struct{ scheduled []ScheduledMessage }

func (c fixedCU) FetchScheduled(context.Context, string, string) ([]ScheduledMessage, error) {
	return c.scheduled, nil
}

type emptyCU struct{}

func (emptyCU) FetchScheduled(context.Context, string, string) ([]ScheduledMessage, error) {
	return nil, nil
}

type fakeSigner struct{ n int }

func (s *fakeSigner) Sign(_ context.Context, _ []aomsg.Tag, data []byte) (checkpoint.SignedItem, error) {
	s.n++
	return checkpoint.SignedItem{TxID: fmt.Sprintf("tx%d", s.n), Raw: data}, nil
}

type recordingSU struct {
	mu    sync.Mutex
	posts int
}

func (su *recordingSU) PostMessage(_ context.Context, item checkpoint.SignedItem) (string, error) {
	su.mu.Lock()
	defer su.mu.Unlock()
	su.posts++
	return item.TxID, nil
}

type noopCU struct{}

func (noopCU) FetchEvaluation(context.Context, string, string) (aomsg.Output, error) {
	return aomsg.Output{}, nil
}

func TestPollOneAdvancesLastFromSortKeyOnSuccess(t *testing.T) {
	store := newMemStore(aomsg.Monitor{ID: "p1"})
	cu := fixedCU{scheduled: []ScheduledMessage{
		{ScheduledSortKey: "000000000001,1", Outbound: aomsg.Outbound{ProcessID: "p1", Target: "p2"}},
		{ScheduledSortKey: "000000000002,2", Outbound: aomsg.Outbound{ProcessID: "p1", Target: "p2"}},
	}}
	su := &recordingSU{}
	loop := &Loop{
		Store:      store,
		SelectNode: func(string) CUClient { return cu },
		Cranker: &cranker.Cranker{
			SU:         su,
			SelectNode: func(string) cranker.CUClient { return noopCU{} },
			Signer:     &fakeSigner{},
			MaxDepth:   4,
		},
	}

	if err := loop.pollOne(context.Background(), aomsg.Monitor{ID: "p1"}); err != nil {
		t.Fatal(err)
	}

	m := store.monitors["p1"]
	if m.LastFromSortKey != "000000000002,2" {
		t.Fatalf("expected resume position advanced to the batch max, got %q", m.LastFromSortKey)
	}
	if su.posts != 2 {
		t.Fatalf("expected both scheduled messages cranked, got %d posts", su.posts)
	}
	if len(store.persisted) != 1 {
		t.Fatalf("expected one persisted batch, got %d", len(store.persisted))
	}
}

func TestPollOneSkipsWhenNothingScheduled(t *testing.T) {
	store := newMemStore(aomsg.Monitor{ID: "p1", LastFromSortKey: "x"})
	loop := &Loop{
		Store:      store,
		SelectNode: func(string) CUClient { return emptyCU{} },
		Cranker:    &cranker.Cranker{},
	}

	if err := loop.pollOne(context.Background(), aomsg.Monitor{ID: "p1", LastFromSortKey: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(store.persisted) != 0 {
		t.Fatal("expected no batch persisted when nothing is scheduled")
	}
	if store.monitors["p1"].LastFromSortKey != "x" {
		t.Fatal("expected the resume position unchanged")
	}
}

func TestTickSkipsInFlightMonitor(t *testing.T) {
	store := newMemStore(aomsg.Monitor{ID: "p1"})
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := blockingCU{started: started, release: release}

	loop := &Loop{
		Store:      store,
		SelectNode: func(string) CUClient { return blocking },
		Cranker:    &cranker.Cranker{SU: &recordingSU{}, SelectNode: func(string) cranker.CUClient { return noopCU{} }, Signer: &fakeSigner{}, MaxDepth: 4},
		Interval:   time.Millisecond,
	}

	loop.tick(context.Background())
	<-started

	// A second tick while the first monitor run is still in flight must
	// skip p1 rather than launching a concurrent duplicate.
	loop.tick(context.Background())
	close(release)

	// allow the first goroutine to finish and remove itself from the
	// running set.
	time.Sleep(10 * time.Millisecond)
	if _, stillRunning := loop.running.Load("p1"); stillRunning {
		t.Fatal("expected the monitor to be removed from the running set after completion")
	}
}

type blockingCU struct {
	started chan struct{}
	release chan struct{}
}

func (c blockingCU) FetchScheduled(context.Context, string, string) ([]ScheduledMessage, error) {
	close(c.started)
	<-c.release
	return nil, nil
}
