package geocode

import (
	"context"
	"errors"

	"github.com/sells-group/osm-geocoder/internal/metrics"
)

// Lookuper performs a single provider lookup. *Client implements it.
type Lookuper interface {
	Lookup(ctx context.Context, q Query) (*Result, error)
}

// Enricher fills address records with coordinates and region identifiers.
// It holds no per-call state and is safe for concurrent use.
type Enricher struct {
	client Lookuper
	states StateNamer
	opts   BuildOptions
}

// NewEnricher creates an Enricher. states may be nil, in which case the raw
// state_province value is always sent.
func NewEnricher(client Lookuper, states StateNamer, opts BuildOptions) *Enricher {
	return &Enricher{client: client, states: states, opts: opts}
}

// Enrich geocodes rec in place and reports whether both coordinates were
// obtained.
func (e *Enricher) Enrich(ctx context.Context, rec *Record) bool {
	ok, _ := e.EnrichDetail(ctx, rec)
	return ok
}

// EnrichDetail is Enrich that also returns the provider error, if any. The
// error has already been written to rec.GeoCodeError.
func (e *Enricher) EnrichDetail(ctx context.Context, rec *Record) (bool, error) {
	q := BuildQuery(ctx, rec, e.states, e.opts)
	if !q.Searchable() {
		rec.GeoCode1 = NullFloat{}
		rec.GeoCode2 = NullFloat{}
		metrics.ObserveEnrichment("no_data")
		return false, nil
	}

	res, err := e.client.Lookup(ctx, q)
	if err == nil && !res.Matched && q.Has(ParamStreet) {
		// Street spelling is the usual reason for zero results.
		if retry := q.Del(ParamStreet); retry.Searchable() {
			res, err = e.client.Lookup(ctx, retry)
		}
	}
	if res == nil {
		res = &Result{}
	}

	rec.GeoCode1 = NullFloat{}
	rec.GeoCode2 = NullFloat{}
	if res.Matched {
		rec.GeoCode1 = NewNullFloat(res.Latitude)
		rec.GeoCode2 = NewNullFloat(res.Longitude)
	}

	if !rec.StateProvinceID.Valid {
		rec.StateProvinceID = res.StateProvinceID
	}
	if !rec.CountyID.Valid {
		rec.CountyID = res.CountyID
	}
	if !rec.CountryID.Valid {
		rec.CountryID = res.CountryID
	}

	if err != nil {
		var ge *Error
		if errors.As(err, &ge) {
			if msg := ge.RecordMessage(); msg != "" {
				rec.GeoCodeError = msg
			}
		} else {
			rec.GeoCodeError = err.Error()
		}
		metrics.ObserveEnrichment("error")
		return false, err
	}

	if res.Matched {
		metrics.ObserveEnrichment("geocoded")
	} else {
		metrics.ObserveEnrichment("failed")
	}
	return res.Matched, nil
}
