package geocode

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures.
type ErrorKind int

const (
	// KindHTTPStatus is any non-200 response other than 429.
	KindHTTPStatus ErrorKind = iota + 1
	// KindRateLimited is HTTP 429 Too Many Requests.
	KindRateLimited
	// KindInvalidJSON means the body could not be decoded.
	KindInvalidJSON
	// KindTransport means no response was received.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindHTTPStatus:
		return "http_status"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidJSON:
		return "invalid_json"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// OverQueryLimit is written to geo_code_error when the provider throttles us.
const OverQueryLimit = "OVER_QUERY_LIMIT"

// Error is a classified provider failure. Body is only set for
// KindInvalidJSON.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus, KindRateLimited:
		return fmt.Sprintf("nominatim: %s: status %d", e.Kind, e.StatusCode)
	case KindTransport:
		if e.Err != nil {
			return "nominatim: transport: " + e.Err.Error()
		}
	}
	return "nominatim: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// TransportMessage describes a lookup that got no response.
const TransportMessage = "Geocoding failed, request error"

// RecordMessage is the text stored in a record's geo_code_error field. It is
// empty for transport failures, which leave the field untouched.
func (e *Error) RecordMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return OverQueryLimit
	case KindHTTPStatus:
		return fmt.Sprintf("Geocoding failed, invalid response code %d", e.StatusCode)
	case KindInvalidJSON:
		return fmt.Sprintf("Geocoding failed. %q is no valid json-code.", e.Body)
	default:
		return ""
	}
}

// Message is RecordMessage, falling back to TransportMessage when the
// record text is empty. Callers reporting to a user use it.
func (e *Error) Message() string {
	if msg := e.RecordMessage(); msg != "" {
		return msg
	}
	return TransportMessage
}

// IsKind reports whether err carries a geocode Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}

// statusError classifies a non-200 response.
func statusError(code int) *Error {
	if code == 429 {
		return &Error{Kind: KindRateLimited, StatusCode: code}
	}
	return &Error{Kind: KindHTTPStatus, StatusCode: code}
}
