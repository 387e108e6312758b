package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if strings.HasPrefix(origURL, t.targetPrefix) {
		suffix := origURL[len(t.targetPrefix):]
		newURL := t.testServer + suffix
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(newURL)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}

// provider is a scripted Nominatim stand-in that counts requests.
type provider struct {
	srv   *httptest.Server
	calls atomic.Int32

	mu      sync.Mutex
	queries []string
	agents  []string
	respond func(r *http.Request) (int, string)
}

func newProvider(t *testing.T, respond func(r *http.Request) (int, string)) *provider {
	t.Helper()
	p := &provider{respond: respond}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		p.mu.Lock()
		p.queries = append(p.queries, r.URL.RawQuery)
		p.agents = append(p.agents, r.Header.Get("User-Agent"))
		p.mu.Unlock()

		status, body := p.respond(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) searchURL() string { return p.srv.URL + "/search" }

func (p *provider) lastQuery() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queries) == 0 {
		return ""
	}
	return p.queries[len(p.queries)-1]
}

func fixed(status int, body string) func(*http.Request) (int, string) {
	return func(*http.Request) (int, string) { return status, body }
}

// memCache is a map-backed Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = body
	c.sets++
	return nil
}

func (c *memCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// fakeDirectory is an in-memory Directory and StateNamer.
type fakeDirectory struct {
	mu        sync.Mutex
	countries map[string]int64
	states    map[string]int64
	abbrevs   map[string]string
	stateByID map[int64]string
	counties  map[string]int64
	nextID    int64
	created   int
	err       error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		countries: map[string]int64{},
		states:    map[string]int64{},
		abbrevs:   map[string]string{},
		stateByID: map[int64]string{},
		counties:  map[string]int64{},
		nextID:    1000,
	}
}

func (d *fakeDirectory) addState(id int64, name, abbr string) {
	d.states[name] = id
	d.stateByID[id] = name
	if abbr != "" {
		d.abbrevs[abbr] = name
	}
}

func (d *fakeDirectory) FindCountryByISOCode(_ context.Context, code string) (int64, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, false, d.err
	}
	id, ok := d.countries[code]
	return id, ok, nil
}

func (d *fakeDirectory) FindStateByName(_ context.Context, name string) (int64, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.states[name]
	return id, ok, nil
}

func (d *fakeDirectory) FindCountyByName(_ context.Context, name string) (int64, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.counties[name]
	return id, ok, nil
}

func (d *fakeDirectory) CreateCounty(_ context.Context, _ int64, name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.counties[name] = d.nextID
	d.created++
	return d.nextID, nil
}

func (d *fakeDirectory) StateNameByID(_ context.Context, id int64) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.stateByID[id]
	return name, ok, nil
}

func (d *fakeDirectory) StateNameByAbbreviation(_ context.Context, abbr string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.abbrevs[abbr]
	return name, ok, nil
}
