// Package jsonpath reads values out of JSON documents with a small subset
// of JSONPath: root ($), dotted and bracketed member access, array indexes
// and the [*] wildcard.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract returns the single value at path, rendered as a string.
// A JSON null is returned as "null".
func Extract(json string, path string) (string, error) {
	result, err := lookup(json, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

func lookup(json, path string) (gjson.Result, error) {
	if strings.TrimSpace(json) == "" {
		return gjson.Result{}, fmt.Errorf("empty JSON string")
	}
	if path == "" {
		return gjson.Result{}, fmt.Errorf("empty JSONPath expression")
	}
	if !gjson.Valid(json) {
		return gjson.Result{}, fmt.Errorf("invalid JSON document")
	}

	result := gjson.Get(json, ToGjson(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("path not found: %s", path)
	}
	return result, nil
}

// ToGjson converts a JSONPath expression to gjson syntax:
//
//	$                 -> @this
//	$.doctors[0].id   -> doctors.0.id
//	$[*].id           -> #.id
//	$['name']         -> name
func ToGjson(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c != '[' {
			b.WriteByte(c)
			continue
		}

		end := strings.IndexByte(path[i:], ']')
		if end < 0 {
			b.WriteString(path[i:])
			break
		}
		inner := strings.Trim(path[i+1:i+end], `'"`)
		if inner == "*" {
			inner = "#"
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(inner)
		i += end
	}
	return b.String()
}
