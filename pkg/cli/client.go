package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/axle/pkg/admin"
	"github.com/platinummonkey/axle/pkg/host"
	"github.com/platinummonkey/axle/pkg/httputil"
)

const defaultServer = "http://localhost:8080"

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	httputil.ErrorResponse
}

func (e *APIError) Error() string {
	msg := e.ErrorResponse.Error
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Chain) > 1 {
		return fmt.Sprintf("%s (%d): %s [chain: %s]", e.Kind, e.StatusCode, msg, strings.Join(e.Chain, " -> "))
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, msg)
}

// Client talks to the axled admin API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the admin API at server.
func NewClient(server string) *Client {
	return &Client{
		baseURL: strings.TrimRight(server, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// List returns every plugin, or only those in state when it is set.
func (c *Client) List(ctx context.Context, state string) ([]host.Status, error) {
	path := "/api/v1/plugins"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	var out []host.Status
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// Get returns one plugin.
func (c *Client) Get(ctx context.Context, id string) (host.Status, error) {
	var out host.Status
	return out, c.do(ctx, http.MethodGet, pluginPath(id, ""), nil, &out)
}

// Load loads a plugin and its dependencies.
func (c *Client) Load(ctx context.Context, id string) (host.Status, error) {
	var out host.Status
	return out, c.do(ctx, http.MethodPost, pluginPath(id, "load"), nil, &out)
}

// Unload unloads a plugin, and its loaded dependents when cascade is set.
func (c *Client) Unload(ctx context.Context, id string, cascade bool) (host.Status, error) {
	var out host.Status
	path := pluginPath(id, "unload") + "?cascade=" + strconv.FormatBool(cascade)
	return out, c.do(ctx, http.MethodPost, path, nil, &out)
}

// Reload re-reads a plugin's descriptor and reloads it.
func (c *Client) Reload(ctx context.Context, id string, cascade bool) (host.Status, error) {
	var out host.Status
	path := pluginPath(id, "reload") + "?cascade=" + strconv.FormatBool(cascade)
	return out, c.do(ctx, http.MethodPost, path, nil, &out)
}

// Discover rescans the server's descriptor sources.
func (c *Client) Discover(ctx context.Context, load bool) (admin.DiscoverResponse, error) {
	var out admin.DiscoverResponse
	return out, c.do(ctx, http.MethodPost, "/api/v1/discover?load="+strconv.FormatBool(load), nil, &out)
}

// Publish publishes event with args.
func (c *Client) Publish(ctx context.Context, event string, args []any) (admin.PublishResponse, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return admin.PublishResponse{}, fmt.Errorf("failed to encode event arguments: %w", err)
	}
	var out admin.PublishResponse
	return out, c.do(ctx, http.MethodPost, "/api/v1/events/"+url.PathEscape(event), body, &out)
}

// Capabilities returns the provided capabilities and delivered links.
func (c *Client) Capabilities(ctx context.Context) (admin.CapabilitiesResponse, error) {
	var out admin.CapabilitiesResponse
	return out, c.do(ctx, http.MethodGet, "/api/v1/capabilities", nil, &out)
}

// Graph returns the dependency graph as Graphviz DOT, or Cytoscape JSON
// when dot is false.
func (c *Client) Graph(ctx context.Context, dot bool) ([]byte, error) {
	path := "/api/v1/graph"
	if dot {
		path = "/api/v1/graph.dot"
	}
	var raw bytes.Buffer
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw.Bytes(), nil
}

func pluginPath(id, action string) string {
	p := "/api/v1/plugins/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends a request and decodes the JSON response into out. A *bytes.Buffer
// out receives the raw body instead.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr.ErrorResponse) != nil {
			apiErr.ErrorResponse.Error = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if buf, ok := out.(*bytes.Buffer); ok {
		_, err := io.Copy(buf, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
