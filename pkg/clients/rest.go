// Package clients provides the HTTP clients used to pull datasets from
// external APIs: a generic paginated REST client and a Shopify admin
// client built on top of it.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/formats"
	"github.com/nexdata/nexdata/pkg/table"
)

// RESTConfig configures a REST client.
type RESTConfig struct {
	BaseURL string `json:"base_url"`

	// BearerToken is sent as an Authorization header. Headers take
	// precedence: when a custom Authorization header is set the token
	// is ignored.
	BearerToken string            `json:"bearer_token"`
	Headers     map[string]string `json:"headers"`

	// Rate limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Timeouts
	RequestTimeout time.Duration `json:"request_timeout"`
	DialTimeout    time.Duration `json:"dial_timeout"`

	// Pagination
	PerPage  int `json:"per_page"`
	MaxPages int `json:"max_pages"`
}

// DefaultRESTConfig returns the default client configuration.
func DefaultRESTConfig() *RESTConfig {
	return &RESTConfig{
		RateLimit:      10.0,
		RateBurst:      1,
		RequestTimeout: 30 * time.Second,
		DialTimeout:    10 * time.Second,
		PerPage:        100,
		MaxPages:       0, // unlimited
	}
}

// RESTClient fetches JSON payloads from a REST API with rate limiting
// and page- or cursor-based pagination.
type RESTClient struct {
	config     *RESTConfig
	logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRESTClient creates a REST client. A nil config uses defaults; a nil
// logger disables logging.
func NewRESTClient(config *RESTConfig, logger *zap.Logger) *RESTClient {
	if config == nil {
		config = DefaultRESTConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &RESTClient{
		config: config,
		logger: logger.With(zap.String("component", "rest_client")),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
		limiter: limiter,
	}
}

// Get performs a rate-limited GET against a path relative to the base
// URL and returns the response body and headers.
func (c *RESTClient) Get(ctx context.Context, path string, params url.Values) ([]byte, http.Header, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post performs a rate-limited POST with a JSON-encoded body and returns
// the response body and headers.
func (c *RESTClient) Post(ctx context.Context, path string, params url.Values, payload interface{}) ([]byte, http.Header, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
		}
		body = bytes.NewReader(raw)
	}
	return c.do(ctx, http.MethodPost, path, params, body)
}

func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, reqBody io.Reader) ([]byte, http.Header, error) {
	u, err := c.resolveURL(path, params)
	if err != nil {
		return nil, nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeRateLimit, "rate limiter wait failed")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	c.applyHeaders(req)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.ErrorTypeConnection, "request to %s failed", u)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.Header, errors.Newf(errors.ErrorTypeRateLimit, "rate limited by server (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, errors.Newf(errors.ErrorTypeConnection,
			"unexpected status %d from %s: %s", resp.StatusCode, u, truncate(string(body), 200))
	}
	return body, resp.Header, nil
}

// PaginationMode selects how FetchPaginated advances through result pages.
type PaginationMode string

const (
	// PaginatePage sends page=N and stops on an empty page.
	PaginatePage PaginationMode = "page"
	// PaginateCursor follows the rel="next" page_info cursor from the
	// Link response header.
	PaginateCursor PaginationMode = "cursor"
)

// FetchOptions configure a paginated fetch.
type FetchOptions struct {
	Mode PaginationMode
	// RecordsKey names the JSON field holding the record array; empty
	// tries the payload root and the common envelope keys.
	RecordsKey string
	// Params are extra query parameters sent with every page.
	Params url.Values
	// PerPageParam names the page-size query parameter; empty means
	// "per_page". APIs such as Shopify expect "limit" instead.
	PerPageParam string
}

// FetchPaginated pulls every page of a collection endpoint and returns
// the accumulated records as a table named after the endpoint.
func (c *RESTClient) FetchPaginated(ctx context.Context, path string, opts FetchOptions) (*table.Table, error) {
	if opts.Mode == "" {
		opts.Mode = PaginatePage
	}
	perPageParam := opts.PerPageParam
	if perPageParam == "" {
		perPageParam = "per_page"
	}

	var records []map[string]interface{}
	cursor := ""
	for page := 1; ; page++ {
		if c.config.MaxPages > 0 && page > c.config.MaxPages {
			c.logger.Warn("stopping at page cap", zap.Int("max_pages", c.config.MaxPages))
			break
		}

		params := url.Values{}
		switch opts.Mode {
		case PaginateCursor:
			if cursor == "" {
				for k, vs := range opts.Params {
					params[k] = vs
				}
			} else {
				// Cursor requests carry only the cursor; servers such as
				// Shopify reject filter params alongside page_info.
				params.Set("page_info", cursor)
			}
		default:
			for k, vs := range opts.Params {
				params[k] = vs
			}
			params.Set("page", fmt.Sprintf("%d", page))
		}
		params.Set(perPageParam, fmt.Sprintf("%d", c.config.PerPage))

		body, header, err := c.Get(ctx, path, params)
		if err != nil {
			return nil, err
		}

		pageRecords, err := extractRecords(body, opts.RecordsKey)
		if err != nil {
			return nil, err
		}
		if len(pageRecords) == 0 {
			break
		}
		records = append(records, pageRecords...)
		c.logger.Debug("fetched page",
			zap.Int("page", page),
			zap.Int("records", len(pageRecords)),
			zap.Int("total", len(records)))

		if opts.Mode == PaginateCursor {
			cursor = nextPageInfo(header.Get("Link"))
			if cursor == "" {
				break
			}
		} else if len(pageRecords) < c.config.PerPage {
			break
		}
	}

	name := strings.Trim(path, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".json")
	return formats.TableFromRecords(name, records), nil
}

// ToTable converts a raw JSON response body into a named table. The key
// names the field holding the record array, as in FetchOptions.
func ToTable(name string, body []byte, key string) (*table.Table, error) {
	records, err := extractRecords(body, key)
	if err != nil {
		return nil, err
	}
	return formats.TableFromRecords(name, records), nil
}

// extractRecords decodes a JSON payload into flat records. The payload
// may be a bare array, an object with the named key, an object with one
// of the common envelope keys, or a single object.
func extractRecords(body []byte, key string) ([]map[string]interface{}, error) {
	var arr []map[string]interface{}
	if err := json.Unmarshal(body, &arr); err == nil {
		return flattenRecords(arr), nil
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "response is not valid JSON")
	}

	keys := []string{key, "data", "results", "items"}
	for _, k := range keys {
		if k == "" {
			continue
		}
		nested, ok := envelope[k]
		if !ok {
			continue
		}
		items, ok := nested.([]interface{})
		if !ok {
			continue
		}
		records := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			if rec, ok := item.(map[string]interface{}); ok {
				records = append(records, rec)
			}
		}
		return flattenRecords(records), nil
	}

	// Single-object payload becomes a one-row table.
	return flattenRecords([]map[string]interface{}{envelope}), nil
}

// flattenRecords reduces nested objects and arrays to their JSON text so
// every cell is a scalar.
func flattenRecords(records []map[string]interface{}) []map[string]interface{} {
	for _, rec := range records {
		for k, v := range rec {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				raw, err := json.Marshal(v)
				if err != nil {
					rec[k] = fmt.Sprintf("%v", v)
					continue
				}
				rec[k] = string(raw)
			}
		}
	}
	return records
}

// nextPageInfo extracts the page_info cursor from a Link header's
// rel="next" entry, or returns "" when there is no next page.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end <= start {
			return ""
		}
		u, err := url.Parse(part[start+1 : end])
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}

func (c *RESTClient) resolveURL(path string, params url.Values) (string, error) {
	raw := path
	if c.config.BaseURL != "" && !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeValidation, "invalid URL %q", raw)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *RESTClient) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "NexData/1.0")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if c.config.BearerToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.config.BearerToken)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
