package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// requestsPerSecond matches the catalog API's documented per-base limit.
const requestsPerSecond = 5

// Client reads the experiences table over the catalog's REST API.
type Client struct {
	baseURL string
	token   string
	base    string
	table   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a catalog Client for one base and table.
func NewClient(baseURL, token, base, table string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		base:    base,
		table:   table,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + "/" + c.base + "/" + c.table + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("catalog: request %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return nil
}

// Get fetches a single record by id. Returns ErrNotFound if the record was
// deleted upstream.
func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := c.get(ctx, "/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// listPage is one page of the paginated list response.
type listPage struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// list walks the offset pagination until the server stops returning one.
func (c *Client) list(ctx context.Context, query url.Values) ([]Record, error) {
	var all []Record
	offset := ""
	for {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		if offset != "" {
			q.Set("offset", offset)
		}

		var page listPage
		if err := c.get(ctx, "", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Records...)

		if page.Offset == "" {
			return all, nil
		}
		offset = page.Offset
	}
}

// ListAll fetches every record, optionally filtered by a formula.
func (c *Client) ListAll(ctx context.Context, filter string) ([]Record, error) {
	q := url.Values{}
	if filter != "" {
		q.Set("filterByFormula", filter)
	}
	return c.list(ctx, q)
}

// ListIDs enumerates record ids without pulling full field sets. A minimal
// fields selection keeps the pages small; the ids ride on the envelope.
func (c *Client) ListIDs(ctx context.Context, filter string) ([]string, error) {
	q := url.Values{}
	q.Set("fields[]", FieldName)
	if filter != "" {
		q.Set("filterByFormula", filter)
	}
	records, err := c.list(ctx, q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// Featured returns up to limit records flagged for the default experience
// list.
func (c *Client) Featured(ctx context.Context, limit int) ([]Record, error) {
	q := url.Values{}
	q.Set("filterByFormula", "{"+FieldFeatured+"}=TRUE()")
	if limit > 0 {
		q.Set("maxRecords", fmt.Sprint(limit))
	}
	records, err := c.list(ctx, q)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
