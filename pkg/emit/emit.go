// Package emit writes the output message stream: SCHEMA, RECORD, and
// STATE messages as line-delimited JSON on a caller-supplied writer.
// Message order is the contract; everything goes through one Emitter.
package emit

import (
	"io"
	"sync"
	"time"

	"github.com/streamkit/nicesync/pkg/errors"
	jsonutil "github.com/streamkit/nicesync/pkg/json"
)

// TimeFormat is the timestamp layout used on emitted messages, UTC with
// microsecond precision.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// Emitter serializes messages onto a single writer.
type Emitter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewEmitter creates an emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w, now: time.Now}
}

type schemaMessage struct {
	Type               string      `json:"type"`
	Stream             string      `json:"stream"`
	Schema             interface{} `json:"schema"`
	KeyProperties      []string    `json:"key_properties"`
	BookmarkProperties []string    `json:"bookmark_properties,omitempty"`
}

type recordMessage struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream"`
	Record        map[string]interface{} `json:"record"`
	TimeExtracted string                 `json:"time_extracted"`
}

type stateMessage struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// WriteSchema emits a SCHEMA message declaring a stream's shape. The
// replication key, when present, is listed as a bookmark property.
func (e *Emitter) WriteSchema(stream string, schema interface{}, keyProperties []string, replicationKey string) error {
	msg := schemaMessage{
		Type:          "SCHEMA",
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	}
	if replicationKey != "" {
		msg.BookmarkProperties = []string{replicationKey}
	}
	return e.write(msg)
}

// WriteRecord emits a RECORD message stamped with the extraction time.
func (e *Emitter) WriteRecord(stream string, record map[string]interface{}) error {
	return e.write(recordMessage{
		Type:          "RECORD",
		Stream:        stream,
		Record:        record,
		TimeExtracted: e.now().UTC().Format(TimeFormat),
	})
}

// WriteState emits a STATE message carrying the full state value.
func (e *Emitter) WriteState(value interface{}) error {
	return e.write(stateMessage{Type: "STATE", Value: value})
}

func (e *Emitter) write(msg interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := jsonutil.MarshalToWriter(e.w, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write output message")
	}
	return nil
}
