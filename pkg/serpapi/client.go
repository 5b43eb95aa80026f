// Package serpapi is a minimal SerpApi search client. Requests can be routed
// through a local proxy or a prefix-style CORS proxy before falling back to
// the direct endpoint.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://serpapi.com"

// Client performs SerpApi searches.
type Client interface {
	Search(ctx context.Context, query string, params Params) (*SearchResponse, error)
}

// Params are optional search parameters. Zero values use the client defaults.
type Params struct {
	Engine   string
	Location string
	Num      int
	HL       string
	GL       string
}

// SearchResponse is the subset of the SerpApi response we consume.
type SearchResponse struct {
	SearchMetadata SearchMetadata  `json:"search_metadata"`
	OrganicResults []OrganicResult `json:"organic_results"`
	LocalResults   LocalResults    `json:"local_results"`
	Error          string          `json:"error,omitempty"`
}

// SearchMetadata describes the search run.
type SearchMetadata struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OrganicResult is a generic web result.
type OrganicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// LocalResult is a local business listing.
type LocalResult struct {
	Position int     `json:"position"`
	Title    string  `json:"title"`
	Address  string  `json:"address"`
	Phone    string  `json:"phone"`
	Rating   float64 `json:"rating"`
	Reviews  int     `json:"reviews"`
	Type     string  `json:"type"`
	Website  string  `json:"website"`
	Links    struct {
		Website string `json:"website"`
	} `json:"links"`
}

// WebsiteURL returns the listing's website, if any.
func (r LocalResult) WebsiteURL() string {
	if r.Website != "" {
		return r.Website
	}
	return r.Links.Website
}

// LocalResults accepts both shapes SerpApi uses: a bare array (maps engine)
// and an object with a "places" array (google engine).
type LocalResults []LocalResult

// UnmarshalJSON implements json.Unmarshaler.
func (l *LocalResults) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []LocalResult
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	var obj struct {
		Places []LocalResult `json:"places"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = obj.Places
	return nil
}

// APIError is a failed search, either a non-200 status or an error body.
// Upstream is set when the error came from SerpApi itself rather than from
// a proxy in front of it.
type APIError struct {
	StatusCode int
	Message    string
	Upstream   bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("serpapi: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the direct API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithLocalProxy routes requests through a same-origin proxy that forwards
// /search.json to SerpApi. It is tried first.
func WithLocalProxy(u string) Option {
	return func(c *httpClient) {
		c.localProxy = strings.TrimRight(u, "/")
	}
}

// WithCORSProxy routes requests through a prefix-style proxy
// (proxy + url-escaped target). It is tried after the local proxy.
func WithCORSProxy(prefix string) Option {
	return func(c *httpClient) {
		c.corsProxy = prefix
	}
}

// WithDefaults sets default search parameters.
func WithDefaults(p Params) Option {
	return func(c *httpClient) {
		c.defaults = p
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey     string
	baseURL    string
	localProxy string
	corsProxy  string
	defaults   Params
	http       *http.Client
}

// NewClient creates a SerpApi client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		defaults: Params{Engine: "google", Num: 20, HL: "en"},
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type endpoint struct {
	name string
	url  string
}

// endpoints lists the request URLs in the order they are tried.
func (c *httpClient) endpoints(query url.Values) []endpoint {
	direct := c.baseURL + "/search.json?" + query.Encode()
	var out []endpoint
	if c.localProxy != "" {
		out = append(out, endpoint{name: "local_proxy", url: c.localProxy + "/search.json?" + query.Encode()})
	}
	if c.corsProxy != "" {
		out = append(out, endpoint{name: "cors_proxy", url: c.corsProxy + url.QueryEscape(direct)})
	}
	return append(out, endpoint{name: "direct", url: direct})
}

func (c *httpClient) values(query string, p Params) url.Values {
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	v := url.Values{}
	v.Set("q", query)
	v.Set("api_key", c.apiKey)
	v.Set("engine", pick(p.Engine, c.defaults.Engine))
	if loc := pick(p.Location, c.defaults.Location); loc != "" {
		v.Set("location", loc)
	}
	if hl := pick(p.HL, c.defaults.HL); hl != "" {
		v.Set("hl", hl)
	}
	if gl := pick(p.GL, c.defaults.GL); gl != "" {
		v.Set("gl", gl)
	}
	num := p.Num
	if num <= 0 {
		num = c.defaults.Num
	}
	if num > 0 {
		v.Set("num", strconv.Itoa(num))
	}
	return v
}

// Search runs the query against each endpoint in turn. Transport failures
// and proxy errors move on to the next endpoint; an answer from SerpApi
// itself (success or API error) is returned as is.
func (c *httpClient) Search(ctx context.Context, query string, params Params) (*SearchResponse, error) {
	var lastErr error
	for _, ep := range c.endpoints(c.values(query, params)) {
		resp, err := c.get(ctx, ep.url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Upstream {
			break
		}
		zap.L().Debug("serpapi: endpoint failed, trying next",
			zap.String("endpoint", ep.name),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func (c *httpClient) get(ctx context.Context, target string) (*SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(redact(err), "serpapi: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: read response")
	}

	var result SearchResponse
	if jsonErr := json.Unmarshal(body, &result); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 300)}
		}
		return nil, eris.Wrap(jsonErr, "serpapi: unmarshal response")
	}

	if resp.StatusCode != http.StatusOK || result.Error != "" {
		msg := result.Error
		if msg == "" {
			msg = truncate(string(body), 300)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg, Upstream: result.Error != ""}
	}

	return &result, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// redact drops the query from transport error URLs. The api_key travels in
// the query, directly or inside a proxied target.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s %s: %w", uerr.Op, redactURL(uerr.URL), uerr.Err)
	}
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
