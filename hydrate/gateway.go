package hydrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/retry"
)

// HTTPGatewayLoader implements both DataLoader and AssignmentLoader against
// the Arweave gateway: a GraphQL lookup for a transaction's metadata plus a
// raw-body download for its data, the same two primitives
// checkpoint.HTTPGateway uses (spec.md §6).
type HTTPGatewayLoader struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Retry   retry.Policy
}

type txGraphQLResponse struct {
	Data struct {
		Transaction struct {
			Owner struct {
				Address string `json:"address"`
			} `json:"owner"`
			Recipient string      `json:"recipient"`
			Tags      []aomsg.Tag `json:"tags"`
		} `json:"transaction"`
	} `json:"data"`
}

const txQuery = `query($id: ID!) { transaction(id: $id) { owner { address } recipient tags { name value } } }`

func (l *HTTPGatewayLoader) fetchMetadata(ctx context.Context, txID string) (owner, target string, tags []aomsg.Tag, err error) {
	err = retry.Do(ctx, l.Retry, func(ctx context.Context) error {
		body, merr := json.Marshal(map[string]any{"query": txQuery, "variables": map[string]string{"id": txID}})
		if merr != nil {
			return fmt.Errorf("hydrate: encoding tx query: %w", cuerr.ErrFatal)
		}
		u := *l.BaseURL
		u.Path = joinPath(u.Path, "graphql")
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if rerr != nil {
			return fmt.Errorf("hydrate: building tx query request: %w", cuerr.ErrFatal)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, derr := l.HTTP.Do(req)
		if derr != nil {
			return fmt.Errorf("hydrate: %s: %w", derr, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("hydrate: gateway returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("hydrate: gateway returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}
		var gr txGraphQLResponse
		if jerr := json.NewDecoder(resp.Body).Decode(&gr); jerr != nil {
			return fmt.Errorf("hydrate: decoding tx query response: %w", cuerr.ErrIllFormedMessage)
		}
		owner = gr.Data.Transaction.Owner.Address
		target = gr.Data.Transaction.Recipient
		tags = gr.Data.Transaction.Tags
		return nil
	})
	return owner, target, tags, err
}

// Load fetches txID's raw data body, for the legacy load-data transform.
func (l *HTTPGatewayLoader) Load(ctx context.Context, txID string) (string, error) {
	var data []byte
	err := retry.Do(ctx, l.Retry, func(ctx context.Context) error {
		u := *l.BaseURL
		u.Path = joinPath(u.Path, txID)
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if rerr != nil {
			return fmt.Errorf("hydrate: building load request: %w", cuerr.ErrFatal)
		}
		resp, derr := l.HTTP.Do(req)
		if derr != nil {
			return fmt.Errorf("hydrate: %s: %w", derr, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("hydrate: legacy data %s not found: %w", txID, cuerr.ErrNotFound)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("hydrate: gateway returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("hydrate: gateway returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}
		var rerr2 error
		data, rerr2 = io.ReadAll(resp.Body)
		return rerr2
	})
	return string(data), err
}

// LoadAssignment fetches the metadata + body an assignment overlays onto
// the scheduled message it references. From is the owner's address; the
// anchor is not fetched, so Anchor is returned empty.
func (l *HTTPGatewayLoader) LoadAssignment(ctx context.Context, txID string) (aomsg.MessageBody, error) {
	owner, target, tags, err := l.fetchMetadata(ctx, txID)
	if err != nil {
		return aomsg.MessageBody{}, fmt.Errorf("hydrate: loading assignment metadata for %s: %w", txID, err)
	}
	data, err := l.Load(ctx, txID)
	if err != nil {
		return aomsg.MessageBody{}, fmt.Errorf("hydrate: loading assignment data for %s: %w", txID, err)
	}
	return aomsg.MessageBody{ID: txID, Owner: owner, From: owner, Target: target, Tags: tags, Data: data}, nil
}

func joinPath(base, suffix string) string {
	if base == "" {
		return "/" + suffix
	}
	if base[len(base)-1] == '/' {
		return base + suffix
	}
	return base + "/" + suffix
}
