// Package hydrate implements the streaming composition of transforms
// applied to each Message before it is folded: deep-hash attachment,
// legacy data loading, and assignment overlay (spec.md §4.F).
package hydrate

import (
	"context"
	"fmt"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/deephash"
)

// MessageSource is the pull-based interface both source.Stream and a
// Pipeline itself satisfy, so a Pipeline can wrap either raw or already-
// hydrated input without the evaluator needing to know which.
type MessageSource interface {
	Next(ctx context.Context) (aomsg.Message, bool, error)
}

// Stage transforms one message. keep=false drops the message from the
// stream (only the legacy load-data transform does this, for messages past
// AO_LOAD_MAX_BLOCK). A stage must be transparent to messages it doesn't
// apply to: return the message unchanged with keep=true.
type Stage func(ctx context.Context, m aomsg.Message) (msg aomsg.Message, keep bool, err error)

// DataLoader fetches a legacy-Load-tagged transaction's data body. Only the
// data is fetched; the transaction's metadata is not.
// The transaction/data store itself is an external collaborator (spec.md
// §1); this is the seam a real implementation plugs into.
type DataLoader interface {
	Load(ctx context.Context, txID string) (data string, err error)
}

// AssignmentLoader fetches the transaction a message assigns from and
// returns the fields to overlay onto it.
type AssignmentLoader interface {
	LoadAssignment(ctx context.Context, txID string) (aomsg.MessageBody, error)
}

// AssignmentPolicy resolves Open Question (b): whether Owner/From on an
// assignment overlay from the chain transaction or retain the scheduled
// values. Default preserves current (source) behavior: overlay both.
type AssignmentPolicy struct {
	OverlayOwnerAndFrom bool
}

// DefaultAssignmentPolicy overlays both Owner and From, matching spec.md §9b.
var DefaultAssignmentPolicy = AssignmentPolicy{OverlayOwnerAndFrom: true}

// IllFormedPolicy resolves Open Question (a): what to do with a message
// that fails terminal schema validation. Default halts the stream, per the
// spec's explicit policy statement (spec.md §7); OnIllFormed is the
// override seam for a future skip-and-continue mode.
type IllFormedPolicy struct {
	// OnIllFormed, if set, is consulted instead of halting. Returning
	// keep=false drops the message and the stream continues; keep=true
	// re-validates (the hook is expected to have fixed the message).
	OnIllFormed func(m aomsg.Message, validationErr error) (msg aomsg.Message, keep bool)
}

// Pipeline is an ordered chain of Stages, followed by a terminal schema
// validator (spec.md §4.F: "A terminal validator re-parses each output
// against the Message schema to catch transform bugs").
type Pipeline struct {
	Stages    []Stage
	IllFormed IllFormedPolicy
}

// New builds the standard three-stage pipeline: maybeDeepHash,
// maybeLoadData, maybeAssignment.
func New(loader DataLoader, loadMaxBlock int64, assignments AssignmentLoader, policy AssignmentPolicy) Pipeline {
	return Pipeline{Stages: []Stage{
		MaybeDeepHash,
		MaybeLoadData(loader, loadMaxBlock),
		MaybeAssignment(assignments, policy),
	}}
}

// Wrap composes the pipeline over src, returning something satisfying
// MessageSource so the evaluator can pull hydrated messages one at a time
// without buffering the whole stream.
func (p Pipeline) Wrap(src MessageSource) MessageSource {
	return &wrapped{src: src, stages: p.Stages, illFormed: p.IllFormed}
}

type wrapped struct {
	src       MessageSource
	stages    []Stage
	illFormed IllFormedPolicy
}

func (w *wrapped) Next(ctx context.Context) (aomsg.Message, bool, error) {
	for {
		m, ok, err := w.src.Next(ctx)
		if err != nil || !ok {
			return aomsg.Message{}, ok, err
		}
		keep := true
		for _, stage := range w.stages {
			m, keep, err = stage(ctx, m)
			if err != nil {
				return aomsg.Message{}, false, err
			}
			if !keep {
				break
			}
		}
		if !keep {
			continue // dropped by the legacy load-data cutoff; pull the next message
		}
		if verr := m.Validate(); verr != nil {
			if w.illFormed.OnIllFormed == nil {
				return aomsg.Message{}, false, fmt.Errorf("hydrate: terminal validation: %v: %w", verr, cuerr.ErrIllFormedMessage)
			}
			fixed, keep := w.illFormed.OnIllFormed(m, verr)
			if !keep {
				continue
			}
			m = fixed
			if verr := m.Validate(); verr != nil {
				return aomsg.Message{}, false, fmt.Errorf("hydrate: terminal validation after OnIllFormed: %v: %w", verr, cuerr.ErrIllFormedMessage)
			}
		}
		return m, true, nil
	}
}

// MaybeDeepHash attaches deepHash to forwarded messages (those carrying
// Forwarded-By). Any other message passes through unchanged.
func MaybeDeepHash(_ context.Context, m aomsg.Message) (aomsg.Message, bool, error) {
	if m.Message.ForwardedBy == "" {
		return m, true, nil
	}
	digest, err := deephash.Compute(deephash.DataItem{
		Data:   []byte(m.Message.Data),
		Tags:   toDeepHashTags(m.Message.Tags),
		Target: m.Message.Target,
		Anchor: m.Message.Anchor,
	})
	if err != nil {
		return m, false, fmt.Errorf("hydrate: deep-hashing forwarded message %s: %w", m.SortKey, err)
	}
	m.DeepHash = digest
	return m, true, nil
}

func toDeepHashTags(tags []aomsg.Tag) []deephash.Tag {
	out := make([]deephash.Tag, len(tags))
	for i, t := range tags {
		out[i] = deephash.Tag{Name: t.Name, Value: t.Value}
	}
	return out
}

// MaybeLoadData returns the sunset legacy-load transform: if the message
// carries a "Load" tag, is not a cron message, and its block height is
// below loadMaxBlock, the referenced transaction's data is fetched and
// installed as the message's Data (its metadata is not fetched). At or above the cutoff the
// message is silently dropped (legacy deprecation, spec.md §4.F.2).
func MaybeLoadData(loader DataLoader, loadMaxBlock int64) Stage {
	return func(ctx context.Context, m aomsg.Message) (aomsg.Message, bool, error) {
		txID, ok := m.Tag("Load")
		if !ok || m.IsCron {
			return m, true, nil
		}
		height, err := blockHeightOf(m)
		if err != nil {
			return m, false, err
		}
		if height >= loadMaxBlock {
			return m, false, nil // dropped: past the sunset cutoff
		}
		data, err := loader.Load(ctx, txID)
		if err != nil {
			return m, false, fmt.Errorf("hydrate: loading legacy data for %s: %w", m.SortKey, err)
		}
		m.Message.Data = data
		return m, true, nil
	}
}

// MaybeAssignment overlays (Id, Owner, From, Tags, Anchor, Data) from the
// referenced transaction onto a message marked isAssignment. The signature
// is not overlaid: MessageBody has no signature field.
func MaybeAssignment(loader AssignmentLoader, policy AssignmentPolicy) Stage {
	return func(ctx context.Context, m aomsg.Message) (aomsg.Message, bool, error) {
		if !m.IsAssignment {
			return m, true, nil
		}
		body, err := loader.LoadAssignment(ctx, m.Message.ID)
		if err != nil {
			return m, false, fmt.Errorf("hydrate: loading assignment for %s: %w", m.SortKey, err)
		}
		m.Message.ID = body.ID
		m.Message.Anchor = body.Anchor
		m.Message.Data = body.Data
		m.Message.Tags = body.Tags
		if policy.OverlayOwnerAndFrom {
			m.Message.Owner = body.Owner
			m.Message.From = body.From
		}
		return m, true, nil
	}
}

func blockHeightOf(m aomsg.Message) (int64, error) {
	if m.AoGlobal.Block.Height == 0 {
		return 0, fmt.Errorf("hydrate: message %s missing block height: %w", m.SortKey, cuerr.ErrIllFormedMessage)
	}
	return m.AoGlobal.Block.Height, nil
}
