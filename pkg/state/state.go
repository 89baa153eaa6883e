// Package state persists sync progress between runs: per-stream
// replication watermarks and the stream currently being synced.
package state

import (
	"os"

	"github.com/streamkit/nicesync/pkg/errors"
	jsonutil "github.com/streamkit/nicesync/pkg/json"
)

// State is the persisted sync state. Bookmarks map stream id to
// replication-key name to the last safe replication value.
type State struct {
	Bookmarks        map[string]map[string]string `json:"bookmarks"`
	CurrentlySyncing *string                      `json:"currently_syncing"`
}

// New returns an empty state.
func New() *State {
	return &State{Bookmarks: map[string]map[string]string{}}
}

// Load reads state from a JSON file. An absent file yields an empty
// state; a present but unreadable or malformed file is an error.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeState, "failed to read state file %s", path)
	}

	s := New()
	if err := jsonutil.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeState, "state file %s is not valid JSON", path)
	}
	if s.Bookmarks == nil {
		s.Bookmarks = map[string]map[string]string{}
	}

	return s, nil
}

// Save writes the state to a JSON file.
func (s *State) Save(path string) error {
	data, err := jsonutil.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to marshal state")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeState, "failed to write state file %s", path)
	}

	return nil
}

// GetBookmark returns the stored replication value for a stream, or the
// fallback when no bookmark exists.
func (s *State) GetBookmark(stream, replicationKey, fallback string) string {
	if keys, ok := s.Bookmarks[stream]; ok {
		if v, ok := keys[replicationKey]; ok && v != "" {
			return v
		}
	}
	return fallback
}

// WriteBookmark records the replication value for a stream.
func (s *State) WriteBookmark(stream, replicationKey, value string) {
	if s.Bookmarks == nil {
		s.Bookmarks = map[string]map[string]string{}
	}
	if s.Bookmarks[stream] == nil {
		s.Bookmarks[stream] = map[string]string{}
	}
	s.Bookmarks[stream][replicationKey] = value
}

// SetCurrentlySyncing marks the active stream. An empty id clears the
// marker, serialized as JSON null.
func (s *State) SetCurrentlySyncing(stream string) {
	if stream == "" {
		s.CurrentlySyncing = nil
		return
	}
	s.CurrentlySyncing = &stream
}
