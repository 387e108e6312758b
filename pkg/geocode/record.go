package geocode

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// nullSentinel is the literal the CRM writes in place of absent values.
const nullSentinel = "null"

// Record is an address as stored by the CRM. Enrich fills in coordinates and
// region identifiers in place.
type Record struct {
	StreetAddress   string `json:"street_address,omitempty"`
	City            string `json:"city,omitempty"`
	StateProvince   string `json:"state_province,omitempty"`
	StateProvinceID ID     `json:"state_province_id"`
	PostalCode      string `json:"postal_code,omitempty"`
	Country         string `json:"country,omitempty"`
	CountryID       ID     `json:"country_id"`
	CountyID        ID     `json:"county_id"`

	GeoCode1     NullFloat `json:"geo_code_1"` // latitude
	GeoCode2     NullFloat `json:"geo_code_2"` // longitude
	GeoCodeError string    `json:"geo_code_error,omitempty"`
}

// ID is an optional directory identifier. The zero value is unset.
type ID struct {
	Int64 int64
	Valid bool
}

// NewID returns a set ID.
func NewID(v int64) ID { return ID{Int64: v, Valid: true} }

// MarshalJSON writes the "null" sentinel for unset IDs.
func (id ID) MarshalJSON() ([]byte, error) {
	if !id.Valid {
		return json.Marshal(nullSentinel)
	}
	return []byte(strconv.FormatInt(id.Int64, 10)), nil
}

// UnmarshalJSON accepts numbers, numeric strings, JSON null, "" and "null".
func (id *ID) UnmarshalJSON(data []byte) error {
	s, unset, err := scalarText(data)
	if err != nil {
		return eris.Wrap(err, "geocode: decode id")
	}
	if unset {
		*id = ID{}
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return eris.Wrapf(err, "geocode: decode id %q", s)
	}
	*id = NewID(v)
	return nil
}

// NullFloat is an optional coordinate. The zero value is unset.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// NewNullFloat returns a set NullFloat.
func NewNullFloat(v float64) NullFloat { return NullFloat{Float64: v, Valid: true} }

// MarshalJSON writes the "null" sentinel for unset coordinates.
func (f NullFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return json.Marshal(nullSentinel)
	}
	return []byte(strconv.FormatFloat(f.Float64, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts numbers, numeric strings, JSON null, "" and "null".
func (f *NullFloat) UnmarshalJSON(data []byte) error {
	s, unset, err := scalarText(data)
	if err != nil {
		return eris.Wrap(err, "geocode: decode coordinate")
	}
	if unset {
		*f = NullFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return eris.Wrapf(err, "geocode: decode coordinate %q", s)
	}
	*f = NewNullFloat(v)
	return nil
}

// scalarText unquotes a JSON scalar and reports whether it means "unset".
func scalarText(data []byte) (string, bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", true, nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false, err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" || s == nullSentinel {
		return "", true, nil
	}
	return s, false, nil
}
