package schema

import "sort"

// Replication methods attached to catalog entries.
const (
	ReplicationIncremental = "INCREMENTAL"
	ReplicationFullTable   = "FULL_TABLE"
)

// Catalog is the discovery output: one entry per registered stream.
type Catalog struct {
	Streams []Entry `json:"streams"`
}

// Entry describes one stream: its schema plus key and replication
// metadata in both top-level and breadcrumb form.
type Entry struct {
	Stream            string     `json:"stream"`
	TapStreamID       string     `json:"tap_stream_id"`
	Schema            *Schema    `json:"schema"`
	KeyProperties     []string   `json:"key_properties"`
	ReplicationMethod string     `json:"replication_method"`
	ReplicationKey    string     `json:"replication_key,omitempty"`
	Metadata          []Metadata `json:"metadata"`
}

// Metadata is one breadcrumb entry. An empty breadcrumb addresses the
// stream itself; ["properties", name] addresses a field.
type Metadata struct {
	Breadcrumb []string               `json:"breadcrumb"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// BuildEntry assembles the catalog entry for a stream from its embedded
// schema. Key properties and the replication key get automatic
// inclusion; every other field is available.
func BuildEntry(streamID string, keyProperties []string, replicationMethod, replicationKey string) (Entry, error) {
	s, err := Load(streamID)
	if err != nil {
		return Entry{}, err
	}

	root := map[string]interface{}{
		"table-key-properties":      keyProperties,
		"forced-replication-method": replicationMethod,
		"inclusion":                 "available",
	}
	if replicationMethod == ReplicationIncremental && replicationKey != "" {
		root["valid-replication-keys"] = []string{replicationKey}
	}

	meta := []Metadata{{Breadcrumb: []string{}, Metadata: root}}

	automatic := map[string]bool{replicationKey: replicationKey != ""}
	for _, k := range keyProperties {
		automatic[k] = true
	}

	fields := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		inclusion := "available"
		if automatic[name] {
			inclusion = "automatic"
		}
		meta = append(meta, Metadata{
			Breadcrumb: []string{"properties", name},
			Metadata:   map[string]interface{}{"inclusion": inclusion},
		})
	}

	return Entry{
		Stream:            streamID,
		TapStreamID:       streamID,
		Schema:            s,
		KeyProperties:     keyProperties,
		ReplicationMethod: replicationMethod,
		ReplicationKey:    replicationKey,
		Metadata:          meta,
	}, nil
}
