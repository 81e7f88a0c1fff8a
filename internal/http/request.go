package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/doktolib/loadgen/internal/loadgen/metrics"
)

// Request represents a single call against the target API.
type Request struct {
	Method      string
	Path        string
	Template    string
	QueryParams url.Values
	Headers     map[string]string
	Body        interface{}
}

// NewRequest creates a new request for method and path.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:      method,
		Path:        path,
		QueryParams: make(url.Values),
		Headers:     make(map[string]string),
	}
}

// NewTemplateRequest expands {name} placeholders in template with
// path-escaped params and keeps the template as the request's endpoint key.
// Path therefore holds the escaped form.
func NewTemplateRequest(method, template string, params map[string]string) *Request {
	path := template
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	r := NewRequest(method, path)
	r.Template = template
	return r
}

// WithHeader adds a header to the request
func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// WithQueryParam adds a query parameter to the request. Empty values are
// skipped so that unfiltered searches send no parameter at all.
func (r *Request) WithQueryParam(key, value string) *Request {
	if value != "" {
		r.QueryParams.Add(key, value)
	}
	return r
}

// WithBody sets the body of the request
func (r *Request) WithBody(body interface{}) *Request {
	r.Body = body
	return r
}

// Endpoint returns the aggregation key for this request.
func (r *Request) Endpoint() string {
	if r.Template != "" {
		return metrics.NormalizeEndpoint(r.Template)
	}
	return metrics.NormalizeEndpoint(r.Path)
}

// String returns "METHOD path?query".
func (r *Request) String() string {
	if len(r.QueryParams) == 0 {
		return r.Method + " " + r.Path
	}
	return r.Method + " " + r.Path + "?" + r.QueryParams.Encode()
}

// Build constructs an http.Request from the Request
func (r *Request) Build(ctx context.Context, baseURL string) (*http.Request, error) {
	reqURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if reqURL.Scheme == "" || reqURL.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}

	// r.Path is already escaped; keep both forms so url.URL escapes nothing twice.
	rawPath := r.Path
	if base := reqURL.EscapedPath(); base != "" {
		rawPath = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(r.Path, "/")
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", rawPath, err)
	}
	reqURL.Path = path
	reqURL.RawPath = rawPath

	query := reqURL.Query()
	for key, values := range r.QueryParams {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	reqURL.RawQuery = query.Encode()

	var bodyReader io.Reader
	contentType := ""
	if r.Body != nil {
		switch body := r.Body.(type) {
		case string:
			bodyReader = strings.NewReader(body)
		case []byte:
			bodyReader = bytes.NewReader(body)
		case io.Reader:
			bodyReader = body
		default:
			jsonBody, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			bodyReader = bytes.NewReader(jsonBody)
			contentType = "application/json"
		}
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}
