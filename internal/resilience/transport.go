package resilience

import (
	"context"
	"net/http"
)

// Transport runs every outbound request through a Guard. HTTP 429 responses
// are passed to the caller unchanged but count as throttling.
type Transport struct {
	Base  http.RoundTripper
	Guard *Guard
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, g *Guard) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Guard: g}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := t.Guard.Do(req.Context(), func(context.Context) error {
		var err error
		resp, err = t.Base.RoundTrip(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return ErrThrottled
		}
		return nil
	})
	if err != nil && IsThrottled(err) && resp != nil {
		return resp, nil
	}
	return resp, err
}
