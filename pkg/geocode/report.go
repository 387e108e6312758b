package geocode

import "errors"

// NoResultMessage is the Report error for a lookup with no usable candidate.
const NoResultMessage = "no result"

// Report is the caller-facing form of a free-form lookup: coordinates and
// identifiers on success, an error message otherwise.
type Report struct {
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	CountryID       ID       `json:"country_id"`
	StateProvinceID ID       `json:"state_province_id"`
	CountyID        ID       `json:"county_id"`
	Error           string   `json:"error,omitempty"`
}

// NewReport builds a Report from the outcome of Client.Coordinates.
func NewReport(res *Result, err error) Report {
	if err != nil {
		var ge *Error
		if errors.As(err, &ge) {
			return Report{Error: ge.Message()}
		}
		return Report{Error: err.Error()}
	}
	if res == nil {
		return Report{Error: NoResultMessage}
	}

	r := Report{
		CountryID:       res.CountryID,
		StateProvinceID: res.StateProvinceID,
		CountyID:        res.CountyID,
	}
	if !res.Matched {
		r.Error = NoResultMessage
		return r
	}
	lat, lon := res.Latitude, res.Longitude
	r.Latitude = &lat
	r.Longitude = &lon
	return r
}

// Found reports whether the lookup produced coordinates.
func (r Report) Found() bool {
	return r.Latitude != nil && r.Longitude != nil
}
