// Package transform post-processes extracted records: type coercion
// against the stream schema, ISO-8601 duration conversion, and CSV
// header normalization. Some reporting endpoints return every field as
// a string; coercion restores the declared types before emission.
package transform

import (
	"strconv"
	"strings"

	"github.com/sosodev/duration"

	"github.com/streamkit/nicesync/pkg/errors"
	"github.com/streamkit/nicesync/pkg/schema"
)

// ConvertDataTypes coerces record values to the types the schema
// declares. A field absent from the schema is a SchemaMismatchError.
// Checks are applied in sequence, so a value can pass through more than
// one coercion.
func ConvertDataTypes(record map[string]interface{}, s *schema.Schema) (map[string]interface{}, error) {
	converted := make(map[string]interface{}, len(record))

	for field, value := range record {
		prop, ok := s.Properties[field]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
				"field %s is not declared in the stream schema", field)
		}

		if value == nil {
			converted[field] = nil
			continue
		}

		var err error

		if prop.Type.Contains("integer") {
			if value, err = toInt(field, value); err != nil {
				return nil, err
			}
		}

		if prop.Format == "singer.decimal" {
			value = toDecimalString(value)
		}

		if prop.Type.Contains("boolean") {
			if value, err = toBool(field, value); err != nil {
				return nil, err
			}
		}

		converted[field] = value
	}

	return converted, nil
}

func toInt(field string, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int, int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
				"field %s: %q is not an integer", field, v)
		}
		return n, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
			"field %s: cannot convert %T to integer", field, value)
	}
}

func toDecimalString(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return value
	}
}

func toBool(field string, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
				"field %s: %q is not a boolean", field, v)
		}
		return b, nil
	case float64:
		return v != 0, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
			"field %s: cannot convert %T to boolean", field, value)
	}
}

// ISO8601Durations converts duration-formatted string values to whole
// seconds. Values that do not parse as ISO-8601 durations pass through
// unchanged, as do non-string values.
func ISO8601Durations(record map[string]interface{}) map[string]interface{} {
	transformed := make(map[string]interface{}, len(record))

	for field, value := range record {
		if s, ok := value.(string); ok {
			if d, err := duration.Parse(s); err == nil {
				transformed[field] = int64(d.ToTimeDuration().Seconds())
				continue
			}
		}
		transformed[field] = value
	}

	return transformed
}

// NormalizeHeader converts an export CSV column header to compact
// camelCase: lower-cased, parentheses stripped, "- " collapsed to "-",
// space-separated segments joined with each segment after the first
// capitalized.
//
//	"Last Name"      -> "lastName"
//	"Handle (Count)" -> "handleCount"
//	"Co- Browse"     -> "co-browse"
func NormalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.NewReplacer("(", "", ")", "").Replace(h)
	h = strings.ReplaceAll(h, "- ", "-")

	parts := strings.Fields(h)
	if len(parts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
