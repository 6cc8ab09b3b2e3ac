package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/retry"
)

func TestHTTPCUClientFetchesScheduledMessages(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scheduled/proc1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("from")
		_ = json.NewEncoder(w).Encode([]wireScheduled{
			{ScheduledSortKey: "2", Target: "proc2", Data: "hi", Tags: []aomsg.Tag{{Name: "Action", Value: "Ping"}}},
		})
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	c := &HTTPCUClient{BaseURL: u, HTTP: server.Client(), Retry: retry.Policy{MaxAttempts: 1}}

	msgs, err := c.FetchScheduled(context.Background(), "proc1", "1")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "1" {
		t.Fatalf("expected from=1 to be forwarded, got %q", gotQuery)
	}
	if len(msgs) != 1 || msgs[0].Outbound.ProcessID != "proc1" || msgs[0].Outbound.Target != "proc2" {
		t.Fatalf("got %+v", msgs)
	}
}

func TestHTTPCUClientOmitsFromWhenEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Fatalf("expected no query string, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]wireScheduled{})
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	c := &HTTPCUClient{BaseURL: u, HTTP: server.Client(), Retry: retry.Policy{MaxAttempts: 1}}

	msgs, err := c.FetchScheduled(context.Background(), "proc1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no scheduled messages, got %+v", msgs)
	}
}

func TestHTTPCUClientTreatsMalformedBodyAsIllFormed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	c := &HTTPCUClient{BaseURL: u, HTTP: server.Client(), Retry: retry.Policy{MaxAttempts: 1}}

	_, err := c.FetchScheduled(context.Background(), "proc1", "")
	if cuerr.KindOf(err) != cuerr.KindIllFormedMessage {
		t.Fatal("expected an ill-formed decode error")
	}
}
