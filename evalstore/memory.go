package evalstore

import (
	"context"
	"sort"
	"sync"

	"github.com/aonet/cu/aomsg"
)

// MemStore is an in-memory Store, for tests and short-lived processes
// where persistence isn't required.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]aomsg.Evaluation // docKey -> evaluation
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]aomsg.Evaluation)}
}

// SaveEvaluation implements Store.
func (m *MemStore) SaveEvaluation(_ context.Context, e aomsg.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[docKey(e.ProcessID, e.SortKey)] = e
	return nil
}

// FindLatestEvaluation implements Store.
func (m *MemStore) FindLatestEvaluation(ctx context.Context, processID string) (aomsg.Evaluation, error) {
	all := m.forProcess(processID)
	if len(all) == 0 {
		return aomsg.Evaluation{}, ErrNotFound
	}
	return all[len(all)-1], nil
}

// FindEvaluations implements Store.
func (m *MemStore) FindEvaluations(_ context.Context, processID, from, to string) ([]aomsg.Evaluation, error) {
	var out []aomsg.Evaluation
	for _, e := range m.forProcess(processID) {
		if e.SortKey >= from && e.SortKey < to {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindMessageID implements Store.
func (m *MemStore) FindMessageID(_ context.Context, processID, messageID string) (aomsg.Evaluation, error) {
	for _, e := range m.forProcess(processID) {
		if e.MessageID == messageID {
			return e, nil
		}
	}
	return aomsg.Evaluation{}, ErrNotFound
}

// FindByDeepHash implements Store.
func (m *MemStore) FindByDeepHash(_ context.Context, processID, hash string) (aomsg.Evaluation, error) {
	for _, e := range m.forProcess(processID) {
		if e.DeepHash == hash {
			return e, nil
		}
	}
	return aomsg.Evaluation{}, ErrNotFound
}

func (m *MemStore) forProcess(processID string) []aomsg.Evaluation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []aomsg.Evaluation
	for _, e := range m.docs {
		if e.ProcessID == processID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })
	return out
}
