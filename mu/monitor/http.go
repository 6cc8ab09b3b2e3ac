package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/cuerr"
	"github.com/aonet/cu/retry"
)

// HTTPCUClient fetches scheduled messages for a process
// (spec.md §6: "GET {CU_URL}/scheduled/{processId}[?from=]").
type HTTPCUClient struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Retry   retry.Policy
}

type wireScheduled struct {
	ScheduledSortKey string      `json:"scheduledSortKey"`
	Target           string      `json:"target"`
	Data             string      `json:"data"`
	Anchor           string      `json:"anchor"`
	Tags             []aomsg.Tag `json:"tags"`
}

func (c *HTTPCUClient) FetchScheduled(ctx context.Context, processID, from string) ([]ScheduledMessage, error) {
	var out []ScheduledMessage
	err := retry.Do(ctx, c.Retry, func(ctx context.Context) error {
		u := *c.BaseURL
		u.Path = joinPath(u.Path, "scheduled/"+processID)
		if from != "" {
			q := u.Query()
			q.Set("from", from)
			u.RawQuery = q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("monitor: building scheduled request: %w", cuerr.ErrFatal)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("monitor: %s: %w", err, cuerr.ErrTransient)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("monitor: CU returned %d: %w", resp.StatusCode, cuerr.ErrTransient)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("monitor: CU returned %d: %w", resp.StatusCode, cuerr.ErrFatal)
		}
		var wire []wireScheduled
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return fmt.Errorf("monitor: decoding scheduled response: %w", cuerr.ErrIllFormedMessage)
		}
		out = make([]ScheduledMessage, len(wire))
		for i, w := range wire {
			out[i] = ScheduledMessage{
				ScheduledSortKey: w.ScheduledSortKey,
				Outbound: aomsg.Outbound{
					ProcessID: processID,
					Target:    w.Target,
					Data:      w.Data,
					Anchor:    w.Anchor,
					Tags:      w.Tags,
				},
			}
		}
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
