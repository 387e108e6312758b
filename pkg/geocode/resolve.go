package geocode

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/osm-geocoder/internal/metrics"
)

// Directory is the administrative-region store regions are resolved against.
type Directory interface {
	FindCountryByISOCode(ctx context.Context, code string) (int64, bool, error)
	FindStateByName(ctx context.Context, name string) (int64, bool, error)
	FindCountyByName(ctx context.Context, name string) (int64, bool, error)
	CreateCounty(ctx context.Context, stateID int64, name string) (int64, error)
}

// Match is a resolved country/state/county triple. Unset components were
// either unresolvable or supplied by the caller.
type Match struct {
	CountryID       ID
	StateProvinceID ID
	CountyID        ID
}

// Supplied marks region levels the caller already sent to the provider.
// Those levels are not resolved.
type Supplied struct {
	Country       bool
	StateProvince bool
	County        bool
}

// SuppliedFrom derives Supplied from the query that produced a response.
func SuppliedFrom(q Query) Supplied {
	return Supplied{
		Country:       q.Has(ParamCountry),
		StateProvince: q.Has(ParamStateProvince),
		County:        q.Has(ParamCounty),
	}
}

// Resolver maps provider address breakdowns onto directory identifiers,
// creating county records on demand.
type Resolver struct {
	dir Directory
}

// NewResolver creates a Resolver backed by dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve runs country, state and county resolution in order. A country is
// required before a state is looked up, and a state before a county is
// created. On error the levels resolved so far are returned.
func (r *Resolver) Resolve(ctx context.Context, addr Address, supplied Supplied) (Match, error) {
	var m Match
	county := countyCandidate(addr)

	if !supplied.Country {
		code := strings.ToUpper(strings.TrimSpace(addr.CountryCode))
		if code == "" {
			return m, nil
		}
		id, ok, err := r.dir.FindCountryByISOCode(ctx, code)
		if err != nil {
			return m, eris.Wrapf(err, "resolve: country %s", code)
		}
		if !ok {
			return m, nil
		}
		m.CountryID = NewID(id)
	}

	if !supplied.StateProvince {
		name := cleanName(addr.State)
		if name == "" {
			// City-states like Hamburg or Berlin only report a locality.
			name = county
		}
		if name == "" {
			return m, nil
		}
		id, ok, err := r.dir.FindStateByName(ctx, name)
		if err != nil {
			return m, eris.Wrap(err, "resolve: state")
		}
		if !ok {
			return m, nil
		}
		m.StateProvinceID = NewID(id)
	}

	if supplied.County || county == "" {
		return m, nil
	}
	id, ok, err := r.dir.FindCountyByName(ctx, county)
	if err != nil {
		return m, eris.Wrap(err, "resolve: county")
	}
	if ok {
		m.CountyID = NewID(id)
		return m, nil
	}
	if !m.StateProvinceID.Valid {
		return m, nil
	}

	id, err = r.dir.CreateCounty(ctx, m.StateProvinceID.Int64, county)
	if err != nil {
		return m, eris.Wrap(err, "resolve: create county")
	}
	metrics.IncCountiesCreated()
	zap.L().Info("resolve: created county",
		zap.Int64("county_id", id),
		zap.Int64("state_province_id", m.StateProvinceID.Int64),
	)
	m.CountyID = NewID(id)
	return m, nil
}

// countyCandidate prefers county, then city (independent cities), then town.
func countyCandidate(addr Address) string {
	for _, s := range []string{addr.County, addr.City, addr.Town} {
		if name := cleanName(s); name != "" {
			return name
		}
	}
	return ""
}

func cleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
