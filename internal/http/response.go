package http

import (
	"net/http"
	"time"
)

// TimingInfo contains timing information for a request
type TimingInfo struct {
	StartTime       time.Time
	TimeToFirstByte time.Duration
	TotalTime       time.Duration
	ConnReused      bool
}

// Response represents an HTTP response whose body has already been read
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Timing     TimingInfo
	rawBody    []byte
}

// Body returns the response body
func (r *Response) Body() []byte {
	return r.rawBody
}

// BodyString returns the response body as a string
func (r *Response) BodyString() string {
	return string(r.rawBody)
}

// GetHeader returns the value of the specified header
func (r *Response) GetHeader(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsServerError returns true if the response status code is in the 5xx range
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}
