package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/retry"
	"github.com/aonet/cu/sortkey"
)

// HTTPClient implements SUClient against the real
// GET {SEQUENCER_URL}/gateway/v2/interactions-sort-key endpoint (spec.md §6).
type HTTPClient struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Retry   retry.Policy
}

// wireInteraction mirrors the SU's JSON shape, where block fields may
// arrive as strings. The nested "message" object is the full Message body
// the SU already holds for this interaction (owner/target/from/tags/data);
// spec.md §6 sketches only the sortKey/block/tags envelope, but the stream
// must yield schema-valid Messages (§4.E), so the envelope is understood to
// carry the full body alongside it.
type wireInteraction struct {
	Interaction struct {
		SortKey string `json:"sortKey"`
		Block   struct {
			ID        string      `json:"id"`
			Height    json.Number `json:"height"`
			Timestamp json.Number `json:"timestamp"`
		} `json:"block"`
		Tags         []aomsg.Tag       `json:"tags"`
		Message      aomsg.MessageBody `json:"message"`
		IsAssignment bool              `json:"isAssignment"`
		IsCron       bool              `json:"isCron"`
	} `json:"interaction"`
}

type wireResponse struct {
	Paging struct {
		HasNextPage bool   `json:"hasNextPage"`
		Cursor      string `json:"cursor"`
	} `json:"paging"`
	Interactions []wireInteraction `json:"interactions"`
}

func (c *HTTPClient) FetchPage(ctx context.Context, processID string, from, to sortkey.SortKey, cursor string) (Page, error) {
	var page Page
	err := retry.Do(ctx, c.Retry, func(ctx context.Context) error {
		u := *c.BaseURL
		u.Path = joinPath(u.Path, "gateway/v2/interactions-sort-key")
		q := u.Query()
		q.Set("contractId", processID)
		q.Set("from", string(from))
		q.Set("to", string(to))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("source: building request: %w", cuerr.ErrFatal)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("source: %s: %w", err, cuerr.ErrTransient)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("source: process not found: %w", cuerr.ErrNotFound)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("source: SU returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("source: SU returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}

		var wr wireResponse
		if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
			return fmt.Errorf("source: decoding SU response: %w", cuerr.ErrIllFormedMessage)
		}

		page.HasMore = wr.Paging.HasNextPage
		page.Cursor = wr.Paging.Cursor
		page.Interactions = make([]RawInteraction, 0, len(wr.Interactions))
		for _, wi := range wr.Interactions {
			height, err := wi.Interaction.Block.Height.Int64()
			if err != nil {
				return fmt.Errorf("source: bad block height: %w", cuerr.ErrIllFormedMessage)
			}
			ts, err := strconv.ParseInt(wi.Interaction.Block.Timestamp.String(), 10, 64)
			if err != nil {
				return fmt.Errorf("source: bad block timestamp: %w", cuerr.ErrIllFormedMessage)
			}
			page.Interactions = append(page.Interactions, RawInteraction{
				SortKey:     wi.Interaction.SortKey,
				BlockHeight: height,
				Timestamp:   ts,
				Tags:        wi.Interaction.Tags,
				Message: aomsg.Message{
					SortKey:      wi.Interaction.SortKey,
					Message:      wi.Interaction.Message,
					AoGlobal:     aomsg.AoGlobal{Block: aomsg.Block{Height: height, Timestamp: ts}},
					IsAssignment: wi.Interaction.IsAssignment,
					IsCron:       wi.Interaction.IsCron,
				},
			})
		}
		return nil
	})
	return page, err
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
