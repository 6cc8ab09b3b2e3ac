// Package monitor runs the MU's fixed-interval polling loop: for each
// registered process monitor, fetch newly scheduled messages from its CU
// and hand them to the Cranker (spec.md §4.J).
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/emit"
	"github.com/aonet/cu/mu/cranker"
	"github.com/aonet/cu/sortkey"
)

// ScheduledMessage is one entry returned by CU/scheduled/{processId}.
type ScheduledMessage struct {
	ScheduledSortKey string
	Outbound         aomsg.Outbound
}

// CUClient fetches scheduled messages for a process from its assigned CU.
type CUClient interface {
	// FetchScheduled returns messages scheduled after from (exclusive), or
	// all of them if from is "". Results are ordered by ScheduledSortKey
	// ascending.
	FetchScheduled(ctx context.Context, processID, from string) ([]ScheduledMessage, error)
}

// Store is the monitor registry: the set of processes being watched, each
// with its own resume position.
type Store interface {
	ListMonitors(ctx context.Context) ([]aomsg.Monitor, error)
	SaveMonitor(ctx context.Context, m aomsg.Monitor) error

	// PersistScheduled records a batch of scheduled messages under a
	// freshly generated batch id, so a crashed crank can be resumed or
	// retried against the same persisted batch rather than re-fetching.
	PersistScheduled(ctx context.Context, processID, fromTxID string, msgs []ScheduledMessage) error
}

// SelectCU resolves the CU assigned to a process, mirroring the Cranker's
// own SelectNode seam.
type SelectCU func(processID string) CUClient

// Loop polls Store's monitors at Interval, skipping any monitor whose
// previous tick is still in flight.
type Loop struct {
	Store      Store
	SelectNode SelectCU
	Cranker    *cranker.Cranker
	Interval   time.Duration
	Emit       emit.Emitter

	running sync.Map // processID -> struct{}
}

// Run ticks every Interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick loads all monitors and launches one goroutine per monitor not
// already in flight, per spec.md §4.J's runningMonitorList guard.
func (l *Loop) tick(ctx context.Context) {
	monitors, err := l.Store.ListMonitors(ctx)
	if err != nil {
		l.log("", "listing monitors failed: "+err.Error())
		return
	}

	for _, m := range monitors {
		if _, inFlight := l.running.LoadOrStore(m.ID, struct{}{}); inFlight {
			continue
		}
		m := m
		go func() {
			defer l.running.Delete(m.ID)
			if err := l.pollOne(ctx, m); err != nil {
				l.log(m.ID, "monitor poll failed: "+err.Error())
			}
		}()
	}
}

// pollOne runs one monitor's tick: fetch, persist under a fresh batch id,
// crank, then advance the monitor's resume position on success.
func (l *Loop) pollOne(ctx context.Context, m aomsg.Monitor) error {
	cu := l.SelectNode(m.ID)
	scheduled, err := cu.FetchScheduled(ctx, m.ID, m.LastFromSortKey)
	if err != nil {
		return fmt.Errorf("monitor: fetching scheduled for %s: %w", m.ID, err)
	}
	if len(scheduled) == 0 {
		return nil
	}

	fromTxID := uuid.New().String()
	if err := l.Store.PersistScheduled(ctx, m.ID, fromTxID, scheduled); err != nil {
		return fmt.Errorf("monitor: persisting scheduled batch %s: %w", fromTxID, err)
	}

	outbound := make([]aomsg.Outbound, len(scheduled))
	maxSortKey := scheduled[0].ScheduledSortKey
	for i, s := range scheduled {
		outbound[i] = s.Outbound
		if cmp, err := sortkey.Compare(s.ScheduledSortKey, maxSortKey); err == nil && cmp > 0 {
			maxSortKey = s.ScheduledSortKey
		}
	}

	results := l.Cranker.Crank(ctx, outbound, cranker.NewVisitSet(), 0)
	for _, r := range results {
		if r.Err != nil {
			l.log(m.ID, "crank failed for a scheduled message: "+r.Err.Error())
		}
	}

	m.LastFromSortKey = maxSortKey
	if err := l.Store.SaveMonitor(ctx, m); err != nil {
		return fmt.Errorf("monitor: persisting advanced position for %s: %w", m.ID, err)
	}
	return nil
}

func (l *Loop) log(processID, msg string) {
	if l.Emit == nil {
		return
	}
	l.Emit.Emit(emit.Event{ProcessID: processID, Msg: msg})
}
