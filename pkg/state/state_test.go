package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonutil "github.com/streamkit/nicesync/pkg/json"
)

func TestLoadAbsentFileYieldsEmptyState(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, s.Bookmarks)
	assert.Nil(t, s.CurrentlySyncing)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestBookmarkFallback(t *testing.T) {
	s := New()
	assert.Equal(t, "2024-01-01T00:00:00Z",
		s.GetBookmark("skills_summary", "endDate", "2024-01-01T00:00:00Z"))

	s.WriteBookmark("skills_summary", "endDate", "2024-03-05T08:00:00.000000Z")
	assert.Equal(t, "2024-03-05T08:00:00.000000Z",
		s.GetBookmark("skills_summary", "endDate", "2024-01-01T00:00:00Z"))

	// other streams are unaffected
	assert.Equal(t, "2024-01-01T00:00:00Z",
		s.GetBookmark("wfm_agents", "endDate", "2024-01-01T00:00:00Z"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := New()
	s.WriteBookmark("contacts_completed", "lastUpdateTime", "2024-02-01T12:00:00.000000Z")
	s.WriteBookmark("skills_summary", "endDate", "2024-02-01T13:00:00.000000Z")
	s.SetCurrentlySyncing("skills_summary")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01T12:00:00.000000Z",
		loaded.GetBookmark("contacts_completed", "lastUpdateTime", ""))
	require.NotNil(t, loaded.CurrentlySyncing)
	assert.Equal(t, "skills_summary", *loaded.CurrentlySyncing)
}

func TestCurrentlySyncingSerializesAsNullWhenCleared(t *testing.T) {
	s := New()
	s.SetCurrentlySyncing("teams")
	s.SetCurrentlySyncing("")

	data, err := jsonutil.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"currently_syncing":null`)
}
