// Package cuerr defines the error kinds shared across the evaluation
// pipeline and the MU cranking loop, and the propagation policy between
// them (see spec.md §7).
package cuerr

import "errors"

// Sentinel errors, one per kind. Wrap one of these with fmt.Errorf("...: %w", ErrX)
// so callers can classify with errors.Is while still carrying a useful message.
var (
	// ErrIllFormedMessage covers a bad anchor/target length or a hydration
	// schema failure. Per policy, this halts the current evaluation and
	// surfaces to the caller rather than skipping the message.
	ErrIllFormedMessage = errors.New("ill-formed message")

	// ErrTransient covers network errors, timeouts, and 5xx responses.
	// Retriable on the next invocation.
	ErrTransient = errors.New("transient error")

	// ErrNotFound covers a 404 from a store or the gateway.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers a duplicate insert; idempotent callers treat this
	// as success and use the existing record.
	ErrConflict = errors.New("conflict")

	// ErrDeterministic covers a WASM-process-reported output.Error. The
	// evaluation is recorded and the chain continues.
	ErrDeterministic = errors.New("deterministic process error")

	// ErrFatal covers store corruption, signature failure, or unrecoverable
	// I/O. Aborts the unit and is surfaced to the operator.
	ErrFatal = errors.New("fatal error")
)

// Kind identifies which of the sentinel errors above an error wraps.
type Kind int

const (
	// KindUnknown is returned by KindOf for an error that wraps none of the
	// sentinels in this package.
	KindUnknown Kind = iota
	KindIllFormedMessage
	KindTransient
	KindNotFound
	KindConflict
	KindDeterministic
	KindFatal
)

var kindSentinels = map[Kind]error{
	KindIllFormedMessage: ErrIllFormedMessage,
	KindTransient:        ErrTransient,
	KindNotFound:         ErrNotFound,
	KindConflict:         ErrConflict,
	KindDeterministic:    ErrDeterministic,
	KindFatal:            ErrFatal,
}

// KindOf classifies err by the first sentinel (above) it wraps, or
// KindUnknown if it wraps none of them.
func KindOf(err error) Kind {
	for k := KindIllFormedMessage; k <= KindFatal; k++ {
		if errors.Is(err, kindSentinels[k]) {
			return k
		}
	}
	return KindUnknown
}

// DegradesToColdStart reports whether err, raised during Checkpoint
// discovery, should degrade to a cold start rather than halt the caller
// (spec.md §7: "Transient and NotFound on Checkpoint discovery degrade
// gracefully: Checkpoint → CacheMiss → ColdStart").
func DegradesToColdStart(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindNotFound:
		return true
	default:
		return false
	}
}

// HaltsEvaluation reports whether err, raised anywhere in the fold loop,
// must stop folding further messages (as opposed to ErrDeterministic, which
// is recorded and the chain continues).
func HaltsEvaluation(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindDeterministic
}
