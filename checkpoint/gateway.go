package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/retry"
)

// HTTPGateway implements Gateway against a real Arweave gateway: GraphQL
// tag queries, raw transaction downloads, and a bundler upload endpoint
// (spec.md §6, "Toward the Arweave gateway").
type HTTPGateway struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Retry   retry.Policy
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// graphQLTxEdge mirrors the subset of an Arweave GraphQL transaction node
// needed to reconstruct a Checkpoint.
type graphQLTxEdge struct {
	Node struct {
		ID    string `json:"id"`
		Block struct {
			Height    int64 `json:"height"`
			Timestamp int64 `json:"timestamp"`
		} `json:"block"`
		Tags []aomsg.Tag `json:"tags"`
	} `json:"node"`
}

type graphQLResponse struct {
	Data struct {
		Transactions struct {
			Edges []graphQLTxEdge `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
}

const checkpointQuery = `query($owner: String, $process: String, $nonce: String, $timestamp: String, $cron: String) {
  transactions(
    owners: [$owner]
    tags: [
      { name: "Data-Protocol", values: ["ao"] }
      { name: "Type", values: ["Checkpoint"] }
      { name: "Process", values: [$process] }
    ]
    sort: HEIGHT_DESC
  ) {
    edges { node { id block { height timestamp } tags { name value } } }
  }
}`

// FindCheckpoints queries the gateway's GraphQL endpoint for
// Checkpoint-tagged transactions matching q, ordered by block height
// descending.
func (g *HTTPGateway) FindCheckpoints(ctx context.Context, q Query, limit int) ([]aomsg.Checkpoint, error) {
	vars := map[string]any{"owner": q.Owner, "process": q.ProcessID}
	if q.Nonce != nil {
		vars["nonce"] = strconv.FormatInt(*q.Nonce, 10)
	}
	if q.Timestamp != nil {
		vars["timestamp"] = strconv.FormatInt(*q.Timestamp, 10)
	}
	if q.CronInterval != "" {
		vars["cron"] = q.CronInterval
	}

	var out []aomsg.Checkpoint
	err := retry.Do(ctx, g.Retry, func(ctx context.Context) error {
		body, err := json.Marshal(graphQLRequest{Query: checkpointQuery, Variables: vars})
		if err != nil {
			return fmt.Errorf("checkpoint: encoding graphql query: %w", cuerr.ErrFatal)
		}
		u := *g.BaseURL
		u.Path = joinPath(u.Path, "graphql")
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("checkpoint: building graphql request: %w", cuerr.ErrFatal)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("checkpoint: %s: %w", err, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("checkpoint: gateway returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("checkpoint: gateway returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}

		var gr graphQLResponse
		if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
			return fmt.Errorf("checkpoint: decoding graphql response: %w", cuerr.ErrIllFormedMessage)
		}
		for _, edge := range gr.Data.Transactions.Edges {
			if limit > 0 && len(out) >= limit {
				break
			}
			cp := checkpointFromEdge(q.ProcessID, edge)
			if (q.Nonce != nil && cp.Nonce != *q.Nonce) ||
				(q.Timestamp != nil && cp.Timestamp != *q.Timestamp) ||
				(q.CronInterval != "" && cp.CronInterval != q.CronInterval) {
				continue
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("checkpoint: no checkpoints found for %s: %w", q.ProcessID, cuerr.ErrNotFound)
	}
	return out, nil
}

func checkpointFromEdge(processID string, edge graphQLTxEdge) aomsg.Checkpoint {
	cp := aomsg.Checkpoint{
		ProcessID:   processID,
		BlockHeight: edge.Node.Block.Height,
		Timestamp:   edge.Node.Block.Timestamp,
		SHA256:      edge.Node.ID,
	}
	for _, t := range edge.Node.Tags {
		switch t.Name {
		case "Module":
			cp.Module = t.Value
		case "Cron-Interval":
			cp.CronInterval = t.Value
		case "Content-Encoding":
			cp.ContentEncoding = t.Value
		case "Nonce":
			cp.Nonce, _ = strconv.ParseInt(t.Value, 10, 64)
		case "Timestamp":
			if v, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
				cp.Timestamp = v
			}
		case "Block-Height":
			if v, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
				cp.BlockHeight = v
			}
		}
	}
	return cp
}

// Download fetches the raw transaction body for txID.
func (g *HTTPGateway) Download(ctx context.Context, txID string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, g.Retry, func(ctx context.Context) error {
		u := *g.BaseURL
		u.Path = joinPath(u.Path, txID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("checkpoint: building download request: %w", cuerr.ErrFatal)
		}
		resp, err := g.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("checkpoint: %s: %w", err, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("checkpoint: transaction %s not found: %w", txID, cuerr.ErrNotFound)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("checkpoint: gateway returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("checkpoint: gateway returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("checkpoint: reading download body: %w", cuerr.ErrTransient)
		}
		return nil
	})
	return data, err
}

// Upload POSTs a signed data item to the gateway's ingestion endpoint.
func (g *HTTPGateway) Upload(ctx context.Context, item SignedItem) (string, error) {
	var txID string
	err := retry.Do(ctx, g.Retry, func(ctx context.Context) error {
		u := *g.BaseURL
		u.Path = joinPath(u.Path, "tx")
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(item.Raw))
		if err != nil {
			return fmt.Errorf("checkpoint: building upload request: %w", cuerr.ErrFatal)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := g.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("checkpoint: %s: %w", err, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("checkpoint: gateway returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("checkpoint: gateway returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}
		if item.TxID != "" {
			txID = item.TxID
			return nil
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("checkpoint: decoding upload response: %w", cuerr.ErrIllFormedMessage)
		}
		txID = out.ID
		return nil
	})
	return txID, err
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
