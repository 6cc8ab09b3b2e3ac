package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"testing"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
)

type mockGateway struct {
	checkpoints []aomsg.Checkpoint
	downloads   map[string][]byte
	uploaded    []SignedItem
	findErr     error
}

func (m *mockGateway) FindCheckpoints(_ context.Context, q Query, limit int) ([]aomsg.Checkpoint, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []aomsg.Checkpoint
	for _, cp := range m.checkpoints {
		if q.ProcessID != "" && cp.ProcessID != q.ProcessID {
			continue
		}
		out = append(out, cp)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("none: %w", cuerr.ErrNotFound)
	}
	return out, nil
}

func (m *mockGateway) Download(_ context.Context, txID string) ([]byte, error) {
	d, ok := m.downloads[txID]
	if !ok {
		return nil, fmt.Errorf("no tx %s: %w", txID, cuerr.ErrNotFound)
	}
	return d, nil
}

func (m *mockGateway) Upload(_ context.Context, item SignedItem) (string, error) {
	m.uploaded = append(m.uploaded, item)
	return "tx-" + item.TxID, nil
}

type mockSigner struct{}

func (mockSigner) Sign(_ context.Context, tags []aomsg.Tag, data []byte) (SignedItem, error) {
	return SignedItem{TxID: "signed", Raw: data}, nil
}

func gzipData(b []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(b)
	w.Close()
	return buf.Bytes()
}

func TestPublishUploadsWhenNoneExists(t *testing.T) {
	gw := &mockGateway{}
	s := &Store{Gateway: gw, Signer: mockSigner{}, Module: "mod1", Owner: "me"}

	eval := aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000005,100,h"}
	txID, err := s.Publish(context.Background(), eval, "", gzipData([]byte("memory")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txID == "" {
		t.Fatal("expected a transaction id")
	}
	if len(gw.uploaded) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(gw.uploaded))
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	gw := &mockGateway{checkpoints: []aomsg.Checkpoint{{ProcessID: "p1", SHA256: "existing-tx"}}}
	s := &Store{Gateway: gw, Signer: mockSigner{}, Module: "mod1", Owner: "me"}

	eval := aomsg.Evaluation{ProcessID: "p1", SortKey: "000000000005,100,h"}
	txID, err := s.Publish(context.Background(), eval, "", gzipData([]byte("memory")))
	if err != nil {
		t.Fatal(err)
	}
	if txID != "existing-tx" {
		t.Fatalf("expected existing tx id returned, got %q", txID)
	}
	if len(gw.uploaded) != 0 {
		t.Fatal("expected no new upload for an already-published checkpoint")
	}
}

func TestDiscoverColdStartOnNone(t *testing.T) {
	gw := &mockGateway{}
	s := &Store{Gateway: gw, Signer: mockSigner{}}
	_, err := s.Discover(context.Background(), DiscoverParams{ProcessID: "p1"})
	if cuerr.KindOf(err) != cuerr.KindNotFound {
		t.Fatalf("expected NotFound (cold start signal), got %v", err)
	}
}

func TestDiscoverReturnsLatestNotLaterThanRequest(t *testing.T) {
	payload := gzipData([]byte("state-at-k2"))
	gw := &mockGateway{
		checkpoints: []aomsg.Checkpoint{
			{ProcessID: "p1", BlockHeight: 5, Timestamp: 500, SHA256: "tx-future", ContentEncoding: "gzip"},
			{ProcessID: "p1", BlockHeight: 2, Timestamp: 200, SHA256: "tx-k2", ContentEncoding: "gzip"},
		},
		downloads: map[string][]byte{
			"tx-future": gzipData([]byte("too-new")),
			"tx-k2":     payload,
		},
	}
	s := &Store{Gateway: gw, Signer: mockSigner{}}
	snap, err := s.Discover(context.Background(), DiscoverParams{ProcessID: "p1", Timestamp: 300})
	if err != nil {
		t.Fatal(err)
	}
	if string(snap.Memory) != "state-at-k2" {
		t.Fatalf("got %q", snap.Memory)
	}
}
