package cranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/checkpoint"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/retry"
)

// HTTPSUClient posts signed data items to the Sequencer Unit
// (spec.md §6: "POST {SEQUENCER_URL}/message").
type HTTPSUClient struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Retry   retry.Policy
}

func (c *HTTPSUClient) PostMessage(ctx context.Context, item checkpoint.SignedItem) (string, error) {
	var messageID string
	err := retry.Do(ctx, c.Retry, func(ctx context.Context) error {
		u := *c.BaseURL
		u.Path = joinPath(u.Path, "message")
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(item.Raw))
		if err != nil {
			return fmt.Errorf("cranker: building post request: %w", cuerr.ErrFatal)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("cranker: %s: %w", err, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("cranker: SU returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("cranker: SU returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("cranker: decoding SU response: %w", cuerr.ErrIllFormedMessage)
		}
		if out.ID == "" {
			messageID = item.TxID
		} else {
			messageID = out.ID
		}
		return nil
	})
	return messageID, err
}

// HTTPCUClient fetches a posted message's resulting evaluation from a CU
// (spec.md §6: "GET {CU_URL}/result/{txId}").
type HTTPCUClient struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Retry   retry.Policy
}

type wireResult struct {
	Messages []aomsg.Outbound `json:"messages"`
	Spawns   []aomsg.Outbound `json:"spawns"`
	Output   string           `json:"output"`
}

func (c *HTTPCUClient) FetchEvaluation(ctx context.Context, _ string, messageID string) (aomsg.Output, error) {
	var out aomsg.Output
	err := retry.Do(ctx, c.Retry, func(ctx context.Context) error {
		u := *c.BaseURL
		u.Path = joinPath(u.Path, "result/"+messageID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("cranker: building fetch request: %w", cuerr.ErrFatal)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("cranker: %s: %w", err, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil // empty structure on miss, per spec.md §6
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("cranker: CU returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("cranker: CU returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}
		var wr wireResult
		if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
			return fmt.Errorf("cranker: decoding CU response: %w", cuerr.ErrIllFormedMessage)
		}
		out = aomsg.Output{Messages: wr.Messages, Spawns: wr.Spawns, Output: wr.Output}
		return nil
	})
	return out, err
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
