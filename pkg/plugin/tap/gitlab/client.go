package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meltworks/melt/pkg/httpcache"
)

const defaultAPIURL = "https://gitlab.com/api/v4"

// tokenHeader carries the API token. The token never appears in URLs,
// so cached responses stay free of credentials.
const tokenHeader = "PRIVATE-TOKEN"

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(apiURL, token, cachePath string) *client {
	base := strings.TrimRight(apiURL, "/")
	if base == "" {
		base = defaultAPIURL
	}
	// A bare host gets the v4 endpoint appended, so https://gitlab.com
	// and https://gitlab.com/api/v4 behave the same.
	if u, err := url.Parse(base); err == nil && u.Path == "" {
		base += "/api/v4"
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	if cachePath != "" {
		httpClient.Transport = httpcache.New(cachePath, "private_token")
	}

	return &client{baseURL: base, token: token, http: httpClient}
}

// get fetches one page of path and decodes the JSON body into out.
// It returns the X-Next-Page header value, empty when pagination ends.
func (c *client) get(ctx context.Context, path string, params url.Values, out any) (string, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("GET %s: decode body: %w", path, err)
	}
	return resp.Header.Get("X-Next-Page"), nil
}

// getAll follows pagination until the API stops returning a next page.
func (c *client) getAll(ctx context.Context, path string, params url.Values) ([]map[string]any, error) {
	var all []map[string]any
	page := ""
	for {
		p := url.Values{}
		for k, v := range params {
			p[k] = v
		}
		p.Set("per_page", "100")
		if page != "" {
			p.Set("page", page)
		}

		var rows []map[string]any
		next, err := c.get(ctx, path, p, &rows)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if next == "" || len(rows) == 0 {
			return all, nil
		}
		page = next
	}
}

// getOne fetches a single object endpoint, eg a pipeline detail.
func (c *client) getOne(ctx context.Context, path string) (map[string]any, error) {
	var row map[string]any
	if _, err := c.get(ctx, path, nil, &row); err != nil {
		return nil, err
	}
	return row, nil
}
