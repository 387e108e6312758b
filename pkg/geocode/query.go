package geocode

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Provider query keys.
const (
	ParamStreet         = "street"
	ParamCity           = "city"
	ParamState          = "state"
	ParamPostalCode     = "postalcode"
	ParamCountry        = "country"
	ParamCounty         = "county"
	ParamFreeform       = "q"
	ParamAddressDetails = "addressdetails"

	// ParamStateProvince is never sent by BuildQuery, so the provider's
	// state is always resolved. A known state_province_id survives enrichment
	// regardless.
	ParamStateProvince = "state_province"
)

type param struct {
	key   string
	value string
}

// Query is an insertion-ordered set of provider query parameters. Setting an
// existing key replaces its value in place.
type Query struct {
	params []param
}

// Set adds or replaces key.
func (q *Query) Set(key, value string) {
	for i := range q.params {
		if q.params[i].key == key {
			q.params[i].value = value
			return
		}
	}
	q.params = append(q.params, param{key: key, value: value})
}

// Get returns the value for key.
func (q Query) Get(key string) (string, bool) {
	for _, p := range q.params {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (q Query) Has(key string) bool {
	_, ok := q.Get(key)
	return ok
}

// Del returns a copy of q without key. The receiver is not modified.
func (q Query) Del(key string) Query {
	out := Query{params: make([]param, 0, len(q.params))}
	for _, p := range q.params {
		if p.key != key {
			out.params = append(out.params, p)
		}
	}
	return out
}

// Len returns the number of parameters.
func (q Query) Len() int { return len(q.params) }

// Searchable reports whether q carries anything besides addressdetails.
func (q Query) Searchable() bool {
	for _, p := range q.params {
		if p.key != ParamAddressDetails {
			return true
		}
	}
	return false
}

// Encode renders q as "&k=v" pairs in insertion order, escaped like a form.
func (q Query) Encode() string {
	var b strings.Builder
	for _, p := range q.params {
		b.WriteByte('&')
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// URL returns the full request URL for base.
func (q Query) URL(base string) string {
	return base + "?format=json" + q.Encode()
}

// StateNamer translates stored state references into canonical names.
type StateNamer interface {
	StateNameByID(ctx context.Context, id int64) (string, bool, error)
	StateNameByAbbreviation(ctx context.Context, abbr string) (string, bool, error)
}

// BuildOptions tune query construction.
type BuildOptions struct {
	// UseRawStateName sends state_province verbatim instead of translating
	// it from an abbreviation.
	UseRawStateName bool
}

// BuildQuery maps rec into provider parameters. The returned query is not
// Searchable when rec holds no address data.
func BuildQuery(ctx context.Context, rec *Record, states StateNamer, opts BuildOptions) Query {
	var q Query

	if rec.StreetAddress != "" {
		q.Set(ParamStreet, rec.StreetAddress)
	}
	if rec.City != "" {
		q.Set(ParamCity, rec.City)
	}
	if rec.StateProvince != "" {
		if name := stateName(ctx, rec, states, opts); name != "" && name != rec.City {
			q.Set(ParamState, name)
		}
	}
	if rec.PostalCode != "" {
		q.Set(ParamPostalCode, rec.PostalCode)
	}
	if rec.Country != "" {
		q.Set(ParamCountry, rec.Country)
	}

	if q.Len() > 0 {
		q.Set(ParamAddressDetails, "1")
	}
	return q
}

// stateName resolves the name sent as the state parameter. Directory misses
// and errors fall back to the raw state_province value.
func stateName(ctx context.Context, rec *Record, states StateNamer, opts BuildOptions) string {
	raw := rec.StateProvince
	if states == nil {
		return raw
	}

	var (
		name  string
		found bool
		err   error
	)
	switch {
	case rec.StateProvinceID.Valid:
		name, found, err = states.StateNameByID(ctx, rec.StateProvinceID.Int64)
	case opts.UseRawStateName:
		return raw
	default:
		name, found, err = states.StateNameByAbbreviation(ctx, raw)
	}
	if err != nil {
		zap.L().Debug("geocode: state name lookup failed, using raw value", zap.Error(err))
		return raw
	}
	if !found || name == "" {
		return raw
	}
	return name
}
