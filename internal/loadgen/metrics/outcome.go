// Package metrics aggregates the outcome of every request issued by the load generator.
package metrics

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// IDPlaceholder replaces identifier segments in endpoint keys.
const IDPlaceholder = "{id}"

// Well-known error codes for failures that carry no HTTP status.
const (
	CodeTimeout        = "ETIMEDOUT"
	CodeConnRefused    = "ECONNREFUSED"
	CodeConnReset      = "ECONNRESET"
	CodeHostNotFound   = "ENOTFOUND"
	CodeCanceled       = "ECANCELED"
	CodeUnexpectedEOF  = "EOF"
	CodeInvalidRequest = "EINVAL"
	CodeUnknown        = "unknown"
)

// Outcome is the recorded result of a single API call.
type Outcome struct {
	// Endpoint is the normalized endpoint key (see NormalizeEndpoint).
	Endpoint string `json:"endpoint"`

	// Method is the HTTP method used.
	Method string `json:"method"`

	// Success is true for any 2xx response.
	Success bool `json:"success"`

	// Code is the numeric HTTP status for HTTP-level results, or a
	// network fault code such as ETIMEDOUT.
	Code string `json:"code"`

	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int `json:"statusCode"`

	// Latency is the end-to-end wall clock time of the call.
	Latency time.Duration `json:"latency"`

	// Timestamp is when the call started.
	Timestamp time.Time `json:"timestamp"`
}

// LatencyMillis returns the outcome latency in fractional milliseconds.
func (o Outcome) LatencyMillis() float64 {
	return float64(o.Latency) / float64(time.Millisecond)
}

// NormalizeEndpoint turns a concrete request path into an aggregation key.
//
// The query string is dropped and every segment that looks like an
// identifier is replaced with IDPlaceholder, so /api/v1/doctors/42 and
// /api/v1/doctors/9b2e... land in the same bucket as /api/v1/doctors/{id}.
func NormalizeEndpoint(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isIdentifierSegment(seg) {
			segments[i] = IDPlaceholder
		}
	}
	return strings.Join(segments, "/")
}

// versionSegment matches API version prefixes such as "v1".
var versionSegment = regexp.MustCompile(`^v\d+$`)

// isIdentifierSegment reports whether seg is a path parameter rather than a
// resource name: a uuid or any non-version segment containing a digit.
func isIdentifierSegment(seg string) bool {
	if seg == "" || seg == IDPlaceholder || versionSegment.MatchString(seg) {
		return false
	}
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	return strings.ContainsFunc(seg, unicode.IsDigit)
}
