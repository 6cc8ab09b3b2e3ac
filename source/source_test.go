package source

import (
	"context"
	"testing"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/sortkey"
)

func msg(sortKey string) aomsg.Message {
	return aomsg.Message{
		SortKey: sortKey,
		Message: aomsg.MessageBody{ID: "m-" + sortKey, Owner: "o", Target: "t", From: "f"},
	}
}

// pagedMock serves two descending pages, [B, A] then [], matching spec.md
// §8 scenario 4.
type pagedMock struct {
	calls int
}

func (p *pagedMock) FetchPage(_ context.Context, _ string, _, _ sortkey.SortKey, cursor string) (Page, error) {
	p.calls++
	if cursor == "" {
		return Page{
			Interactions: []RawInteraction{{SortKey: "B", Message: msg("000000000002")}, {SortKey: "A", Message: msg("000000000001")}},
			HasMore:      true,
			Cursor:       "page2",
		}, nil
	}
	return Page{HasMore: false}, nil
}

func TestStreamReversesDescendingPagesToAscending(t *testing.T) {
	opener := NewOpener(&pagedMock{})
	stream, err := opener.Open(context.Background(), "p1", "1", "2")
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for {
		m, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		got = append(got, m.SortKey)
	}
	want := []string{"000000000001", "000000000002"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

type oneShotMock struct{ page Page }

func (o oneShotMock) FetchPage(context.Context, string, sortkey.SortKey, sortkey.SortKey, string) (Page, error) {
	return o.page, nil
}

func TestStreamFailsOnMalformedEntry(t *testing.T) {
	bad := aomsg.Message{SortKey: "1"} // missing owner/target/from
	opener := NewOpener(oneShotMock{page: Page{Interactions: []RawInteraction{{Message: bad}}}})
	stream, err := opener.Open(context.Background(), "p1", "1", "2")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = stream.Next(context.Background())
	if err == nil {
		t.Fatal("expected error for malformed page entry")
	}
}

func TestOpenIncrementsBareHeightToBound(t *testing.T) {
	opener := &clientOpener{Client: oneShotMock{}}
	s, err := opener.Open(context.Background(), "p1", "5", "10")
	if err != nil {
		t.Fatal(err)
	}
	if s.to != "000000000011" {
		t.Fatalf("expected incremented bound, got %q", s.to)
	}
	if s.from != "000000000005" {
		t.Fatalf("expected canonicalized from, got %q", s.from)
	}
}
