// Package geocode resolves CRM address records into coordinates and
// administrative-region identifiers using a Nominatim-style search API.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/osm-geocoder/internal/metrics"
)

// DefaultBaseURL is the public OpenStreetMap Nominatim search endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org/search"

// coordinatePrecision is how many characters of a raw coordinate are parsed.
const coordinatePrecision = 12

// Outcome describes a lookup that did not fail.
type Outcome int

const (
	// OutcomeMatch means coordinates were returned.
	OutcomeMatch Outcome = iota + 1
	// OutcomeEmpty means the provider returned zero candidates.
	OutcomeEmpty
	// OutcomeUnexpectedShape means candidates came back without coordinates.
	OutcomeUnexpectedShape
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return metrics.OutcomeMatch
	case OutcomeEmpty:
		return metrics.OutcomeEmpty
	case OutcomeUnexpectedShape:
		return metrics.OutcomeUnexpectedShape
	default:
		return "unknown"
	}
}

// Result holds the geocoding output for one query.
type Result struct {
	Latitude        float64
	Longitude       float64
	Matched         bool
	CountryID       ID
	StateProvinceID ID
	CountyID        ID
	Outcome         Outcome
	FromCache       bool
}

// Address is the structured address breakdown of a provider candidate.
type Address struct {
	CountryCode string `json:"country_code"`
	State       string `json:"state"`
	County      string `json:"county"`
	City        string `json:"city"`
	Town        string `json:"town"`
}

type place struct {
	Lat     *coordText `json:"lat"`
	Lon     *coordText `json:"lon"`
	Address Address    `json:"address"`
}

// coordText keeps a coordinate exactly as the provider sent it, whether as a
// JSON string or a bare number.
type coordText string

func (c *coordText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = coordText(s)
		return nil
	}
	*c = coordText(data)
	return nil
}

// parseCoordinate truncates raw to coordinatePrecision characters before
// parsing, matching the provider's usual 7 decimal digits.
func parseCoordinate(raw string) (float64, error) {
	if len(raw) > coordinatePrecision {
		raw = raw[:coordinatePrecision]
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrap(err, "nominatim: parse coordinate")
	}
	return v, nil
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the search endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithUserAgent sets the User-Agent identifying this installation.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithCache sets the response cache.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithResolver enables administrative-region resolution of matches.
func WithResolver(r *Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// WithEmptyResultLogging logs zero-result lookups at debug level. Only the
// cache key is logged.
func WithEmptyResultLogging(enabled bool) Option {
	return func(c *Client) {
		c.logEmpty = enabled
	}
}

// Client performs cached Nominatim lookups. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	cache      Cache
	resolver   *Resolver
	logEmpty   bool
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		userAgent:  UserAgent(DefaultProduct, "", "", ""),
		cache:      NopCache{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup geocodes q. Zero candidates and candidates without coordinates are
// reported through Result.Outcome, not as errors. Errors are *Error.
func (c *Client) Lookup(ctx context.Context, q Query) (*Result, error) {
	fullURL := q.URL(c.baseURL)
	key := CacheKey(fullURL)

	body, hit := c.checkCache(ctx, key)
	if !hit {
		var err error
		body, err = c.fetch(ctx, fullURL)
		if err != nil {
			return nil, err
		}
	}

	source := "network"
	if hit {
		source = "cache"
	}
	res, err := c.decode(ctx, body, q, cacheTarget{key: key, store: !hit})
	if err != nil {
		zap.L().Warn("nominatim: undecodable response",
			zap.String("key", key),
			zap.Int("body_bytes", len(body)),
			zap.String("source", source),
		)
		return nil, err
	}
	res.FromCache = hit
	metrics.ObserveLookup(res.Outcome.String(), source)
	return res, nil
}

// Coordinates geocodes a free-form address string. The cache is bypassed.
func (c *Client) Coordinates(ctx context.Context, address string) (*Result, error) {
	var q Query
	q.Set(ParamFreeform, address)
	q.Set(ParamAddressDetails, "1")

	body, err := c.fetch(ctx, q.URL(c.baseURL))
	if err != nil {
		return nil, err
	}
	res, err := c.decode(ctx, body, Query{}, cacheTarget{})
	if err != nil {
		return nil, err
	}
	metrics.ObserveLookup(res.Outcome.String(), "network")
	return res, nil
}

// fetch issues the GET request. Non-200 responses are classified errors.
func (c *Client) fetch(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveProviderLatency(time.Since(start).Seconds())
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		zap.L().Warn("nominatim: invalid response code", zap.Int("status", resp.StatusCode))
		return nil, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	return body, nil
}

type cacheTarget struct {
	key   string
	store bool
}

// decode interprets a response body. Empty and matched responses are written
// to the cache when target.store is set; everything else is not.
func (c *Client) decode(ctx context.Context, body []byte, q Query, target cacheTarget) (*Result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, &Error{Kind: KindInvalidJSON, Body: string(body)}
	}

	var first json.RawMessage
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &Error{Kind: KindInvalidJSON, Body: string(body), Err: err}
		}
		if len(items) == 0 {
			return c.empty(ctx, body, target), nil
		}
		first = items[0]
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, &Error{Kind: KindInvalidJSON, Body: string(body), Err: err}
		}
		if len(obj) == 0 {
			return c.empty(ctx, body, target), nil
		}
		return c.unexpectedShape(target), nil
	default:
		return nil, &Error{Kind: KindInvalidJSON, Body: string(body)}
	}

	var p place
	if err := json.Unmarshal(first, &p); err != nil || p.Lat == nil || p.Lon == nil {
		return c.unexpectedShape(target), nil
	}
	lat, latErr := parseCoordinate(string(*p.Lat))
	lon, lonErr := parseCoordinate(string(*p.Lon))
	if latErr != nil || lonErr != nil {
		return c.unexpectedShape(target), nil
	}

	if target.store {
		c.storeCache(ctx, target.key, body)
	}

	res := &Result{
		Latitude:  lat,
		Longitude: lon,
		Matched:   true,
		Outcome:   OutcomeMatch,
	}
	if c.resolver != nil {
		m, err := c.resolver.Resolve(ctx, p.Address, SuppliedFrom(q))
		if err != nil {
			zap.L().Warn("nominatim: region resolution failed", zap.String("key", target.key), zap.Error(err))
		}
		res.CountryID = m.CountryID
		res.StateProvinceID = m.StateProvinceID
		res.CountyID = m.CountyID
	}
	return res, nil
}

func (c *Client) empty(ctx context.Context, body []byte, target cacheTarget) *Result {
	if target.store {
		c.storeCache(ctx, target.key, body)
	}
	if c.logEmpty {
		zap.L().Debug("nominatim: no results", zap.String("key", target.key))
	}
	return &Result{Outcome: OutcomeEmpty}
}

func (c *Client) unexpectedShape(target cacheTarget) *Result {
	zap.L().Info("nominatim: response was positive, but no coordinates were delivered",
		zap.String("key", target.key),
	)
	return &Result{Outcome: OutcomeUnexpectedShape}
}
