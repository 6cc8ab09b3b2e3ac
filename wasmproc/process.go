// Package wasmproc declares the boundary to the external WASM process
// runtime. The runtime itself is out of scope (spec.md §1): this package
// only fixes the call shape the Evaluator depends on, plus a deterministic
// mock for tests.
package wasmproc

import (
	"context"

	"github.com/aonet/cu/aomsg"
)

// Process folds one hydrated message into process memory and returns the
// resulting Output. Implementations must be deterministic: identical
// (memory, message) pairs must produce byte-identical Output.Memory
// (spec.md §8, determinism scenario).
type Process interface {
	Evaluate(ctx context.Context, memory []byte, msg aomsg.Message) (aomsg.Output, error)
}

// MockProcess is a test implementation of Process.
//
// Use MockProcess in tests to verify folding behavior without a real WASM
// runtime. It provides configurable outputs, call history tracking, and
// error injection.
type MockProcess struct {
	// Outputs contains the sequence of outputs to return. Each call to
	// Evaluate returns the next output in order; once exhausted, the last
	// output repeats.
	Outputs []aomsg.Output

	// Err, if set, is returned instead of an output.
	Err error

	// Fold, if set, overrides Outputs and computes the output directly
	// from (memory, msg) — useful for exercising real determinism checks.
	// Err, if also set, still takes precedence over Fold.
	Fold func(memory []byte, msg aomsg.Message) aomsg.Output

	// Calls records every Evaluate invocation, in order.
	Calls []MockCall

	callIndex int
}

// MockCall records one Evaluate invocation.
type MockCall struct {
	Memory  []byte
	Message aomsg.Message
}

// Evaluate implements Process.
func (m *MockProcess) Evaluate(ctx context.Context, memory []byte, msg aomsg.Message) (aomsg.Output, error) {
	if ctx.Err() != nil {
		return aomsg.Output{}, ctx.Err()
	}

	m.Calls = append(m.Calls, MockCall{Memory: memory, Message: msg})

	if m.Err != nil {
		return aomsg.Output{}, m.Err
	}
	if m.Fold != nil {
		return m.Fold(memory, msg), nil
	}
	if len(m.Outputs) == 0 {
		return aomsg.Output{Memory: memory}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Outputs) {
		idx = len(m.Outputs) - 1
	} else {
		m.callIndex++
	}
	return m.Outputs[idx], nil
}

// CallCount returns the number of Evaluate calls so far.
func (m *MockProcess) CallCount() int {
	return len(m.Calls)
}
