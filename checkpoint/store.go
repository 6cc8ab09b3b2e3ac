// Package checkpoint publishes and discovers Arweave-visible process
// memory snapshots (spec.md §4.D).
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/sortkey"
)

// Gateway is the boundary interface to the Arweave gateway: GraphQL tag
// queries plus raw transaction downloads. The concrete GraphQL/HTTP wire
// format is an external collaborator (spec.md §1); this package only needs
// these two operations.
type Gateway interface {
	// FindCheckpoints returns up to limit Checkpoint-tagged transactions for
	// processID, ordered by block height descending, optionally narrowed by
	// nonce/timestamp/cron. Returns cuerr.ErrNotFound-wrapped if none match,
	// cuerr.ErrTransient-wrapped on network/5xx failure.
	FindCheckpoints(ctx context.Context, q Query, limit int) ([]aomsg.Checkpoint, error)

	// Download fetches the raw transaction data for a checkpoint's
	// transaction id.
	Download(ctx context.Context, txID string) ([]byte, error)

	// Upload publishes a signed data item and returns its transaction id.
	Upload(ctx context.Context, item SignedItem) (txID string, err error)
}

// Query narrows a FindCheckpoints call.
type Query struct {
	Owner        string
	ProcessID    string
	Nonce        *int64
	Timestamp    *int64
	CronInterval string
}

// Signer produces a signed data item for the given checkpoint tags and
// payload. The bundle/signing library itself is out of scope (spec.md §1);
// this is the seam a real implementation plugs into.
type Signer interface {
	Sign(ctx context.Context, tags []aomsg.Tag, data []byte) (SignedItem, error)
}

// SignedItem is an opaque signed data item ready for upload.
type SignedItem struct {
	TxID string
	Raw  []byte
}

// Policy exposes the Open-Question hooks this component leaves to the
// caller (spec.md §9c): what anchor to stamp on a checkpoint.
type Policy struct {
	// Anchor returns the anchor to use for a new Checkpoint publication.
	// Default (nil) preserves the upstream TODO and always returns "".
	Anchor func(processID string) string
}

func (p Policy) anchor(processID string) string {
	if p.Anchor == nil {
		return ""
	}
	return p.Anchor(processID)
}

// Store implements Publish/Discover against a Gateway.
type Store struct {
	Gateway Gateway
	Signer  Signer
	Module  string // the WASM module id stamped on every checkpoint
	Owner   string // this CU's own Arweave address, used to query idempotently
	Policy  Policy
}

// Publish idempotently publishes a checkpoint for evaluation e, whose
// memory must already be gzip-compressed. If a checkpoint already exists
// for (owner, processId, nonce, timestamp, cron), this is a no-op and the
// existing transaction id is returned. Failures are non-fatal: the caller
// should log and continue (spec.md §4.D).
func (s *Store) Publish(ctx context.Context, e aomsg.Evaluation, cronInterval string, gzippedMemory []byte) (string, error) {
	parts, err := sortkey.Split(e.SortKey)
	if err != nil {
		return "", fmt.Errorf("checkpoint: publish %s: %w", e.ProcessID, err)
	}
	ts := int64(parts.Timestamp)
	nonce := int64(parts.Height)
	cron := cronInterval

	existing, err := s.Gateway.FindCheckpoints(ctx, Query{
		Owner: s.Owner, ProcessID: e.ProcessID,
		Nonce: &nonce, Timestamp: &ts, CronInterval: cron,
	}, 1)
	if err == nil && len(existing) > 0 {
		return existing[0].SHA256, nil // idempotent: already published
	}
	if err != nil && cuerr.KindOf(err) != cuerr.KindNotFound {
		return "", fmt.Errorf("checkpoint: querying existing publication: %w", err)
	}

	sum := sha256.Sum256(ungzip(gzippedMemory))
	cp := aomsg.Checkpoint{
		ProcessID:       e.ProcessID,
		Module:          s.Module,
		Epoch:           0,
		Nonce:           nonce,
		Timestamp:       ts,
		BlockHeight:     int64(parts.Height),
		SHA256:          base64.StdEncoding.EncodeToString(sum[:]),
		CronInterval:    cron,
		ContentEncoding: "gzip",
	}

	signed, err := s.Signer.Sign(ctx, append(cp.Tags(), aomsg.Tag{Name: "Anchor", Value: s.Policy.anchor(e.ProcessID)}), gzippedMemory)
	if err != nil {
		return "", fmt.Errorf("checkpoint: signing: %w", err)
	}
	txID, err := s.Gateway.Upload(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("checkpoint: uploading: %w", err)
	}
	return txID, nil
}

// DiscoverParams narrows Discover to the requested position.
type DiscoverParams struct {
	ProcessID    string
	Timestamp    int64
	Ordinate     sortkey.Ordinate
	CronInterval string
}

// Snapshot is what Discover returns on success.
type Snapshot struct {
	Memory      []byte // decompressed
	Timestamp   int64
	BlockHeight int64
	Ordinate    sortkey.Ordinate
	CronInterval string
}

// maxFanOut bounds how many candidate checkpoints Discover will inspect.
const maxFanOut = 50

// Discover finds the latest checkpoint for processID that is not later
// than the requested position, downloads and decodes it, and returns it.
// Returns a cuerr.ErrNotFound-wrapped error (a "cold start" signal to the
// caller) if no such checkpoint exists or none can be downloaded.
func (s *Store) Discover(ctx context.Context, p DiscoverParams) (*Snapshot, error) {
	candidates, err := s.Gateway.FindCheckpoints(ctx, Query{ProcessID: p.ProcessID}, maxFanOut)
	if err != nil {
		return nil, err // already classified Transient/NotFound by the Gateway
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].BlockHeight > candidates[j].BlockHeight
	})

	for _, cp := range candidates {
		tie := sortkey.TieBreak{Timestamp: uint64(cp.Timestamp), CronInterval: cp.CronInterval}
		want := sortkey.TieBreak{Timestamp: uint64(p.Timestamp), CronInterval: p.CronInterval}
		if sortkey.IsLaterThan(tie, want) {
			continue // later than the requested position: not eligible
		}
		raw, err := s.Gateway.Download(ctx, cp.SHA256)
		if err != nil {
			continue // try the next-best candidate rather than fail outright
		}
		memory := raw
		if cp.ContentEncoding == "gzip" {
			memory = ungzip(raw)
		}
		return &Snapshot{
			Memory: memory, Timestamp: cp.Timestamp, BlockHeight: cp.BlockHeight,
			CronInterval: cp.CronInterval,
		}, nil
	}
	return nil, fmt.Errorf("checkpoint: no eligible checkpoint for %s: %w", p.ProcessID, cuerr.ErrNotFound)
}

func ungzip(data []byte) []byte {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	return out
}
