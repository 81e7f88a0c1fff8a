// Package jsonschema checks JSON documents against JSON Schema definitions.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled schema that can be reused across documents.
type Schema struct {
	schema *jsonschema.Schema
}

// Compile parses and compiles a schema given as a JSON string.
func Compile(schemaStr string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// MustCompile is like Compile but panics on an invalid schema. It is meant
// for package-level schema variables.
func MustCompile(schemaStr string) *Schema {
	s, err := Compile(schemaStr)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a raw JSON document. It returns nil when the document
// conforms, a ValidationErrors listing every violation when it does not,
// or a plain error when the document is not JSON at all.
func (s *Schema) Validate(doc []byte) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := s.schema.Validate(data); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return flatten(verr)
		}
		return ValidationErrors{err}
	}
	return nil
}

// Validate validates a JSON string against a JSON Schema.
// A schema or parse problem is returned as an error; a document that
// simply does not conform returns false and no error.
func Validate(jsonStr, schemaStr string) (bool, error) {
	schema, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}

	err = schema.Validate([]byte(jsonStr))
	var verrs ValidationErrors
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &verrs):
		return false, nil
	default:
		return false, err
	}
}

// ValidateWithErrors validates a JSON string against a JSON Schema and
// lists every violation.
func ValidateWithErrors(jsonStr, schemaStr string) (bool, ValidationErrors) {
	schema, err := Compile(schemaStr)
	if err != nil {
		return false, ValidationErrors{err}
	}

	err = schema.Validate([]byte(jsonStr))
	if err == nil {
		return true, nil
	}
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return false, verrs
	}
	return false, ValidationErrors{err}
}

// flatten walks the cause tree and keeps the leaf messages, which are the
// ones that name the offending location.
func flatten(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		return ValidationErrors{fmt.Errorf("validation error at %s: %s", location(err.InstanceLocation), err.Message)}
	}

	var out ValidationErrors
	for _, cause := range err.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

func location(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}
