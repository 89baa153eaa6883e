// Package schema holds the per-stream record schemas and builds the
// discovery catalog. Schemas are JSON files compiled into the binary.
package schema

import (
	"embed"
	"sync"

	"github.com/streamkit/nicesync/pkg/errors"
	jsonutil "github.com/streamkit/nicesync/pkg/json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	cacheMu sync.Mutex
	cache   = map[string]*Schema{}
)

// Schema is a JSON-schema object describing one stream's records.
type Schema struct {
	Type                 TypeList            `json:"type"`
	Properties           map[string]Property `json:"properties,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

// Property describes one record field.
type Property struct {
	Type   TypeList `json:"type"`
	Format string   `json:"format,omitempty"`
}

// TypeList is a JSON-schema type declaration. Accepts both the scalar
// form ("string") and the list form (["null", "string"]).
type TypeList []string

// UnmarshalJSON implements json.Unmarshaler
func (t *TypeList) UnmarshalJSON(data []byte) error {
	var single string
	if err := jsonutil.Unmarshal(data, &single); err == nil {
		*t = TypeList{single}
		return nil
	}

	var list []string
	if err := jsonutil.Unmarshal(data, &list); err != nil {
		return err
	}
	*t = list
	return nil
}

// MarshalJSON implements json.Marshaler
func (t TypeList) MarshalJSON() ([]byte, error) {
	return jsonutil.Marshal([]string(t))
}

// Contains reports whether the type list includes the given type name.
func (t TypeList) Contains(name string) bool {
	for _, v := range t {
		if v == name {
			return true
		}
	}
	return false
}

// HasField reports whether the schema declares the given field.
func (s *Schema) HasField(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// Load returns the embedded schema for a stream id. Loaded schemas are
// cached; callers must not mutate the result.
func Load(streamID string) (*Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[streamID]; ok {
		return s, nil
	}

	data, err := schemaFS.ReadFile("schemas/" + streamID + ".json")
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "no schema for stream %s", streamID)
	}

	s := &Schema{}
	if err := jsonutil.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "schema for stream %s is invalid", streamID)
	}

	cache[streamID] = s
	return s, nil
}
