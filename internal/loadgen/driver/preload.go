package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	lghttp "github.com/doktolib/loadgen/internal/http"
	"github.com/doktolib/loadgen/internal/loadgen/session"
	"github.com/doktolib/loadgen/pkg/jsonpath"
	"github.com/doktolib/loadgen/pkg/jsonschema"
)

// PreloadLimit is the number of doctors requested at startup.
const PreloadLimit = 50

// doctorListSchema is the minimal shape the listing endpoint must return.
// The backend encodes an empty result as null.
var doctorListSchema = jsonschema.MustCompile(`{
	"type": ["array", "null"],
	"items": {
		"type": "object",
		"required": ["id"],
		"properties": {
			"id": {"type": ["string", "integer"]},
			"name": {"type": "string"},
			"specialty": {"type": "string"},
			"location": {"type": "string"}
		}
	}
}`)

// checkHealth calls the health endpoint and requires a 2xx answer.
func (d *Driver) checkHealth(ctx context.Context, client *lghttp.Client) error {
	target := client.BaseURL() + session.HealthPath
	resp, err := client.Do(ctx, lghttp.NewRequest(http.MethodGet, session.HealthPath))
	if err != nil {
		return &StartupError{Stage: StageHealth, URL: target, Err: err}
	}
	switch {
	case resp.IsServerError():
		return &StartupError{Stage: StageHealth, URL: target, Err: fmt.Errorf("backend unhealthy: %s", resp.Status)}
	case !resp.IsSuccess():
		return &StartupError{Stage: StageHealth, URL: target, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	fields := []zap.Field{zap.Duration("latency", resp.Timing.TotalTime)}
	if status, err := jsonpath.Extract(resp.BodyString(), "$.status"); err == nil {
		fields = append(fields, zap.String("status", status))
	}
	if service, err := jsonpath.Extract(resp.BodyString(), "$.service"); err == nil {
		fields = append(fields, zap.String("service", service))
	}
	d.logger.Info("API is healthy", fields...)
	return nil
}

// preloadDoctors fetches the reference doctors used by detail and booking
// actions. An empty list is allowed; a failed call or a malformed body is not.
func (d *Driver) preloadDoctors(ctx context.Context, client *lghttp.Client) ([]session.Doctor, error) {
	req := lghttp.NewRequest(http.MethodGet, session.DoctorsPath).
		WithQueryParam("limit", strconv.Itoa(PreloadLimit))
	target := fmt.Sprintf("%s%s?limit=%d", client.BaseURL(), session.DoctorsPath, PreloadLimit)

	resp, err := client.Do(ctx, req)
	if err != nil {
		return nil, &StartupError{Stage: StagePreload, URL: target, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &StartupError{Stage: StagePreload, URL: target, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	doctors, err := parseDoctors(resp.Body())
	if err != nil {
		return nil, &StartupError{Stage: StagePreload, URL: target, Err: err}
	}
	return doctors, nil
}

// parseDoctors validates a listing body and returns its doctors with
// duplicate ids removed.
func parseDoctors(body []byte) ([]session.Doctor, error) {
	if err := doctorListSchema.Validate(body); err != nil {
		var verrs jsonschema.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("unexpected listing shape: %w", err)
		}
		return nil, err
	}

	var doctors []session.Doctor
	seen := make(map[string]bool)
	gjson.ParseBytes(body).ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" || seen[id] {
			return true
		}
		seen[id] = true
		doctors = append(doctors, session.Doctor{
			ID:        id,
			Name:      item.Get("name").String(),
			Specialty: item.Get("specialty").String(),
			Location:  item.Get("location").String(),
		})
		return true
	})
	return doctors, nil
}
