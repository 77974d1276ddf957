package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"goa.design/clue/log"
)

// DefaultTimeout bounds one upstream round trip when no HTTP client is
// supplied.
const DefaultTimeout = 30 * time.Second

// strippedParams are gateway-only query parameters that must never reach
// the upstream API.
var strippedParams = []string{"user_question"}

// Options configures a Client.
type Options struct {
	// BaseURL is the upstream root, without the version segment.
	BaseURL string
	// APIVersion is the version path segment appended to BaseURL, e.g. "v1".
	APIVersion string
	// APIKeyHeader is the header name carrying the key, e.g. "x-api-key".
	APIKeyHeader string
	// APIKey is attached to every upstream request.
	APIKey string
	// HTTPClient overrides the default client (DefaultTimeout) when set.
	HTTPClient *http.Client
}

// Client talks to the upstream metadata API.
type Client struct {
	baseURL      string // BaseURL including the version segment
	apiKeyHeader string
	apiKey       string
	httpClient   *http.Client
}

// NewClient creates a metadata API client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("metadata: base URL is required")
	}
	if opts.APIVersion == "" {
		return nil, fmt.Errorf("metadata: API version is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/") + "/" + opts.APIVersion,
		apiKeyHeader: opts.APIKeyHeader,
		apiKey:       opts.APIKey,
		httpClient:   httpClient,
	}, nil
}

// Forward proxies one request upstream and returns the upstream status and
// raw body without judging either; the caller decides how to relay them.
// Gateway-only query parameters are stripped and the API key header is
// attached on the way out.
func (c *Client) Forward(ctx context.Context, method, path, rawQuery string) (int, []byte, error) {
	target := c.buildForwardURL(path, rawQuery)
	log.Debug(ctx, log.KV{K: "msg", V: "forwarding to metadata API"}, log.KV{K: "url", V: target})

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build upstream request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("metadata API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) buildForwardURL(path, rawQuery string) string {
	query := stripQuery(rawQuery)
	sep := ""
	if !strings.HasPrefix(path, "/") {
		sep = "/"
	}
	target := c.baseURL + sep + path
	if query != "" {
		target += "?" + query
	}
	return target
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKeyHeader != "" && c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
}

// stripQuery removes gateway-only parameters, keeping everything else.
func stripQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for _, name := range strippedParams {
		values.Del(name)
	}
	return values.Encode()
}

// get performs one typed endpoint request. Unlike Forward, a non-2xx status
// is an error here; typed callers want results, not passthrough.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (*Result, *Message, error) {
	target := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	log.Debug(ctx, log.KV{K: "msg", V: "retrieving metadata"}, log.KV{K: "url", V: target})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build upstream request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("metadata API returned status %d for %s", resp.StatusCode, endpoint)
	}

	result, message := ParseBody(body)
	return result, message, nil
}

// results unwraps a typed endpoint reply into the bare result list. An
// upstream notice body counts as an error at this level.
func (c *Client) results(ctx context.Context, endpoint string, params url.Values) ([]any, error) {
	result, message, err := c.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	if message != nil {
		return nil, fmt.Errorf("metadata API notice for %s: %s", endpoint, message.Message)
	}
	return result.Results, nil
}

// Tables retrieves all tables.
func (c *Client) Tables(ctx context.Context) ([]any, error) {
	return c.results(ctx, "tables", nil)
}

// TableMetadata retrieves metadata for one table.
func (c *Client) TableMetadata(ctx context.Context, table string) ([]any, error) {
	return c.results(ctx, "tables/"+url.PathEscape(table), nil)
}

// TableProfiling retrieves profiling data for one table.
func (c *Client) TableProfiling(ctx context.Context, table string) ([]any, error) {
	return c.results(ctx, "tables/"+url.PathEscape(table)+"/profiling", nil)
}

// TableAttributes retrieves all attributes of one table.
func (c *Client) TableAttributes(ctx context.Context, table string) ([]any, error) {
	return c.results(ctx, "tables/"+url.PathEscape(table)+"/attributes", nil)
}

// TableAttribute retrieves metadata for one attribute of a table.
func (c *Client) TableAttribute(ctx context.Context, table, attribute string) ([]any, error) {
	return c.results(ctx, "tables/"+url.PathEscape(table)+"/attributes/"+url.PathEscape(attribute), nil)
}

// AttributeProfiling retrieves profiling data for one attribute.
func (c *Client) AttributeProfiling(ctx context.Context, table, attribute string) ([]any, error) {
	return c.results(ctx, "tables/"+url.PathEscape(table)+"/attributes/"+url.PathEscape(attribute)+"/profiling", nil)
}

// Counts retrieves item counts for the given query parameters.
func (c *Client) Counts(ctx context.Context, params url.Values) (*Result, error) {
	result, message, err := c.get(ctx, "counts", params)
	if err != nil {
		return nil, err
	}
	if message != nil {
		return nil, fmt.Errorf("metadata API notice for counts: %s", message.Message)
	}
	return result, nil
}

// Search runs a metadata search for the given term.
func (c *Client) Search(ctx context.Context, term string, extra url.Values) ([]any, error) {
	params := url.Values{}
	for k, vs := range extra {
		params[k] = vs
	}
	params.Set("q", term)
	params.Set("index", "metadata")
	return c.results(ctx, "search", params)
}

// Aggregate retrieves aggregated counts for the given query parameters.
func (c *Client) Aggregate(ctx context.Context, params url.Values) (*Result, error) {
	result, message, err := c.get(ctx, "aggregate", params)
	if err != nil {
		return nil, err
	}
	if message != nil {
		return nil, fmt.Errorf("metadata API notice for aggregate: %s", message.Message)
	}
	return result, nil
}

// Schemas retrieves all schemas.
func (c *Client) Schemas(ctx context.Context) ([]any, error) {
	return c.results(ctx, "schemas", nil)
}

// SchemaTables retrieves all tables of one schema.
func (c *Client) SchemaTables(ctx context.Context, schema string) ([]any, error) {
	return c.results(ctx, "schemas/"+url.PathEscape(schema)+"/tables", nil)
}

// SchemaTableMetadata retrieves metadata for one table inside a schema.
func (c *Client) SchemaTableMetadata(ctx context.Context, schema, table string) ([]any, error) {
	return c.results(ctx, "schemas/"+url.PathEscape(schema)+"/tables/"+url.PathEscape(table), nil)
}

// Health checks the upstream service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, _, err := c.get(ctx, "health", nil)
	return err
}
