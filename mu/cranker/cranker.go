// Package cranker recursively dispatches evaluator-produced outbound
// messages to the Sequencer Unit, fetching each dispatch's resulting
// evaluation from a Compute Unit and recursing into its outbound messages
// in turn (spec.md §4.I).
package cranker

import (
	"context"
	"fmt"
	"sync"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/checkpoint"
	"github.com/aonet/cu/emit"
)

// SUClient posts a signed data item to the Sequencer Unit.
type SUClient interface {
	PostMessage(ctx context.Context, item checkpoint.SignedItem) (messageID string, err error)
}

// CUClient fetches the evaluation a CU produced for a posted message.
type CUClient interface {
	FetchEvaluation(ctx context.Context, processID, messageID string) (aomsg.Output, error)
}

// VisitSet guards against cyclic message graphs: a (processId, messageId)
// pair carried through the crank context. Safe for concurrent use.
type VisitSet struct {
	mu   sync.Mutex
	seen map[[2]string]struct{}
}

// NewVisitSet returns an empty VisitSet.
func NewVisitSet() *VisitSet {
	return &VisitSet{seen: make(map[[2]string]struct{})}
}

// Visit records (processID, messageID) and reports whether it had not been
// seen before (true = proceed, false = cycle detected, stop).
func (v *VisitSet) Visit(processID, messageID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := [2]string{processID, messageID}
	if _, ok := v.seen[key]; ok {
		return false
	}
	v.seen[key] = struct{}{}
	return true
}

// CrankResult records the outcome of dispatching one outbound message.
type CrankResult struct {
	ProcessID string
	MessageID string // the SU-assigned id, empty if the post failed
	Err       error  // nil on success; a failed message is "unsent" per spec.md §4.I
}

// Cranker dispatches outbound messages and recurses into their results.
type Cranker struct {
	SU         SUClient
	SelectNode func(processID string) CUClient
	Signer     checkpoint.Signer
	Emit       emit.Emitter
	MaxDepth   int
}

// Crank dispatches each of msgs: sign, POST to the SU, fetch the resulting
// evaluation from the target's CU, and recurse into any further outbound
// messages/spawns it produced. A failure on one message is logged and does
// not abort its siblings (spec.md §4.I). Recursion stops at MaxDepth or on
// a (processId, messageId) revisit.
func (c *Cranker) Crank(ctx context.Context, msgs []aomsg.Outbound, visited *VisitSet, depth int) []CrankResult {
	if depth >= c.MaxDepth {
		results := make([]CrankResult, len(msgs))
		for i, m := range msgs {
			results[i] = CrankResult{ProcessID: m.ProcessID, Err: fmt.Errorf("cranker: max depth %d reached", c.MaxDepth)}
		}
		return results
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []CrankResult
	)
	for _, m := range msgs {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs := c.crankOne(ctx, m, visited, depth)
			mu.Lock()
			results = append(results, rs...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (c *Cranker) crankOne(ctx context.Context, m aomsg.Outbound, visited *VisitSet, depth int) []CrankResult {
	signed, err := c.Signer.Sign(ctx, append(append([]aomsg.Tag{}, m.Tags...), aomsg.Tag{Name: "Target", Value: m.Target}), []byte(m.Data))
	if err != nil {
		c.log(m.ProcessID, "", "sign failed: "+err.Error())
		return []CrankResult{{ProcessID: m.ProcessID, Err: fmt.Errorf("cranker: signing: %w", err)}}
	}

	messageID, err := c.SU.PostMessage(ctx, signed)
	if err != nil {
		c.log(m.ProcessID, "", "post failed: "+err.Error())
		return []CrankResult{{ProcessID: m.ProcessID, Err: fmt.Errorf("cranker: posting to SU: %w", err)}}
	}

	if !visited.Visit(m.ProcessID, messageID) {
		c.log(m.ProcessID, messageID, "cycle detected, stopping recursion")
		return []CrankResult{{ProcessID: m.ProcessID, MessageID: messageID}}
	}

	self := []CrankResult{{ProcessID: m.ProcessID, MessageID: messageID}}
	cu := c.SelectNode(m.ProcessID)
	out, err := cu.FetchEvaluation(ctx, m.ProcessID, messageID)
	if err != nil {
		c.log(m.ProcessID, messageID, "fetch evaluation failed: "+err.Error())
		return self
	}

	var further []aomsg.Outbound
	further = append(further, out.Messages...)
	further = append(further, out.Spawns...)
	if len(further) == 0 {
		return self
	}
	return append(self, c.Crank(ctx, further, visited, depth+1)...)
}

func (c *Cranker) log(processID, messageID, msg string) {
	if c.Emit == nil {
		return
	}
	c.Emit.Emit(emit.Event{ProcessID: processID, MessageID: messageID, Msg: msg})
}
