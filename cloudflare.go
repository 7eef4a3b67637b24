package cfddns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cloudflare/cloudflare-go"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DefaultCloudflareAPI is the base URL of the Cloudflare v4 API.
const DefaultCloudflareAPI = "https://api.cloudflare.com/client/v4"

const (
	perPage         = 50
	maxResponseSize = 8 << 20
)

// Cloudflare implements cfddns.Provider against the Cloudflare v4 REST API.
//
// It should be constructed using NewCloudflare.
type Cloudflare struct {
	token      string
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// CloudflareOption configures a Cloudflare client.
type CloudflareOption func(*Cloudflare) error

// CloudflareBaseURL points the client at a different API root, e.g. a test server.
func CloudflareBaseURL(baseURL string) CloudflareOption {
	return func(cf *Cloudflare) error {
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("error parsing base URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base URL %q must be http or https", baseURL)
		}
		cf.baseURL = u
		return nil
	}
}

// CloudflareHTTPClient sets the HTTP client used for API calls.
func CloudflareHTTPClient(httpclient *http.Client) CloudflareOption {
	return func(cf *Cloudflare) error {
		cf.SetHTTPClient(httpclient)
		return nil
	}
}

// CloudflareLogger sets the logger used for request tracing.
func CloudflareLogger(logger *zap.Logger) CloudflareOption {
	return func(cf *Cloudflare) error {
		cf.SetLogger(logger)
		return nil
	}
}

// NewCloudflare creates a client authenticating with the bearer token.
func NewCloudflare(token string, options ...CloudflareOption) (*Cloudflare, error) {
	if token == "" {
		return nil, errors.New("cloudflare API token cannot be empty")
	}
	base, _ := url.Parse(DefaultCloudflareAPI)
	cf := &Cloudflare{
		token:      token,
		baseURL:    base,
		httpClient: NewHTTPClient(DefaultConnectTimeout, DefaultTimeout),
		logger:     zap.NewNop(),
	}
	for i, opt := range options {
		if err := opt(cf); err != nil {
			return nil, fmt.Errorf("cloudflare option %d returned an error: %w", i, err)
		}
	}
	return cf, nil
}

func (cf *Cloudflare) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cf.logger = logger
}

func (cf *Cloudflare) SetHTTPClient(httpclient *http.Client) {
	if httpclient == nil {
		httpclient = NewHTTPClient(DefaultConnectTimeout, DefaultTimeout)
	}
	cf.httpClient = httpclient
}

type zone struct {
	ID   ZoneID `json:"id"`
	Name string `json:"name"`
}

// wireRecord is a DNS record as the API represents it, with content as plain text.
type wireRecord struct {
	ID      RecordID `json:"id"`
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Content string   `json:"content"`
	TTL     int      `json:"ttl"`
	Proxied bool     `json:"proxied"`
}

func (w wireRecord) record() (Record, error) {
	addr, err := netip.ParseAddr(w.Content)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return Record{
		ID:      w.ID,
		Type:    w.Type,
		Name:    w.Name,
		Content: addr,
		TTL:     w.TTL,
		Proxied: w.Proxied,
	}, nil
}

func (r Record) wire() wireRecord {
	return wireRecord{
		ID:      r.ID,
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Content.String(),
		TTL:     r.TTL,
		Proxied: r.Proxied,
	}
}

// ZoneID implements cfddns.Provider.
// It lists every zone visible to the token and selects the one named exactly name.
func (cf *Cloudflare) ZoneID(ctx context.Context, name string) (ZoneID, error) {
	zones, err := list[zone](ctx, cf, "zones")
	if err != nil {
		return "", fmt.Errorf("error listing zones: %w", err)
	}
	matches := lo.Filter(zones, func(z zone, _ int) bool { return z.Name == name })
	if len(matches) != 1 {
		return "", &MatchError{Kind: "zone", Name: name, Count: len(matches)}
	}
	cf.logger.Debug("resolved zone", zap.String("zone", name), zap.String("zone_id", string(matches[0].ID)))
	return matches[0].ID, nil
}

// Record implements cfddns.Provider.
// zoneName is only used to make errors readable.
func (cf *Cloudflare) Record(ctx context.Context, zoneID ZoneID, zoneName string, name string) (Record, error) {
	records, err := list[wireRecord](ctx, cf, "zones", string(zoneID), "dns_records")
	if err != nil {
		return Record{}, fmt.Errorf("error listing DNS records in zone %s: %w", zoneName, err)
	}
	matches := lo.Filter(records, func(r wireRecord, _ int) bool { return r.Name == name })
	if len(matches) != 1 {
		return Record{}, &MatchError{Kind: "record", Name: name, Scope: zoneName, Count: len(matches)}
	}
	r, err := matches[0].record()
	if err != nil {
		return Record{}, fmt.Errorf("record %s in zone %s: %w", name, zoneName, err)
	}
	cf.logger.Debug("resolved record",
		zap.String("record", name),
		zap.String("record_id", string(r.ID)),
		zap.String("type", r.Type),
		zap.Stringer("content", r.Content),
	)
	return r, nil
}

// UpdateRecord implements cfddns.Provider.
// The record is replaced in full, so every field of record is sent back.
func (cf *Cloudflare) UpdateRecord(ctx context.Context, zoneID ZoneID, id RecordID, record Record) error {
	endpoint := cf.endpoint("zones", string(zoneID), "dns_records", string(id))
	body, err := cf.do(ctx, http.MethodPut, endpoint, record.wire())
	if err != nil {
		return fmt.Errorf("error updating record %s: %w", record.Name, err)
	}
	env, err := decodeEnvelope[json.RawMessage](http.MethodPut, endpoint, body)
	if err != nil {
		return fmt.Errorf("error updating record %s: %w", record.Name, err)
	}
	if _, err := env.result(http.MethodPut, endpoint); err != nil {
		return fmt.Errorf("error updating record %s: %w", record.Name, err)
	}
	return nil
}

// VerifyToken checks with the API that the token is valid and active.
func (cf *Cloudflare) VerifyToken(ctx context.Context) error {
	api, err := cloudflare.NewWithAPIToken(cf.token,
		cloudflare.BaseURL(cf.baseURL.String()),
		cloudflare.HTTPClient(cf.httpClient),
	)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	return nil
}

func (cf *Cloudflare) endpoint(elem ...string) *url.URL {
	escaped := make([]string, len(elem))
	for i, e := range elem {
		escaped[i] = url.PathEscape(e)
	}
	return cf.baseURL.JoinPath(escaped...)
}

// do sends the request and returns the body of a 2xx response.
// Any other status is reported as a *StatusError before the body is interpreted.
func (cf *Cloudflare) do(ctx context.Context, method string, endpoint *url.URL, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("error encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cf.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := cf.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s %s: %w", method, endpoint, err)
	}
	cf.logger.Debug("cloudflare api call",
		zap.String("method", method),
		zap.Stringer("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{
			Method:     method,
			URL:        endpoint.String(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
		var env envelope[json.RawMessage]
		if json.Unmarshal(b, &env) == nil {
			se.Messages = append(env.Errors, env.Messages...)
		}
		return nil, se
	}
	return b, nil
}

// envelope is the wrapper around every API response.
type envelope[T any] struct {
	Success    bool           `json:"success"`
	Errors     []ResponseInfo `json:"errors"`
	Messages   []ResponseInfo `json:"messages"`
	Result     T              `json:"result"`
	ResultInfo *resultInfo    `json:"result_info"`
}

type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

func decodeEnvelope[T any](method string, endpoint *url.URL, body []byte) (envelope[T], error) {
	var env envelope[T]
	if !utf8.Valid(body) {
		return env, fmt.Errorf("error decoding response from %s %s: body is not valid UTF-8", method, endpoint)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("error decoding response from %s %s: %w", method, endpoint, err)
	}
	return env, nil
}

// result converts a decoded envelope into its payload, or into an *APIError if the API reported failure.
func (env envelope[T]) result(method string, endpoint *url.URL) (T, error) {
	if !env.Success {
		var zero T
		return zero, &APIError{
			Method:   method,
			URL:      endpoint.String(),
			Errors:   env.Errors,
			Messages: env.Messages,
		}
	}
	return env.Result, nil
}

// list collects every page of a list endpoint.
func list[T any](ctx context.Context, cf *Cloudflare, elem ...string) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		endpoint := cf.endpoint(elem...)
		q := endpoint.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(perPage))
		endpoint.RawQuery = q.Encode()

		body, err := cf.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		env, err := decodeEnvelope[[]T](http.MethodGet, endpoint, body)
		if err != nil {
			return nil, err
		}
		items, err := env.result(http.MethodGet, endpoint)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			return all, nil
		}
	}
}
