package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkit/nicesync/pkg/config"
	"github.com/streamkit/nicesync/pkg/emit"
	"github.com/streamkit/nicesync/pkg/errors"
	"github.com/streamkit/nicesync/pkg/incontact"
	jsonutil "github.com/streamkit/nicesync/pkg/json"
	"github.com/streamkit/nicesync/pkg/state"
)

// scriptedSession answers extractor calls from test-provided functions.
type scriptedSession struct {
	respond func(endpoint string, params map[string]string) (map[string]interface{}, error)
	runJob  func(entity, version string, win incontact.Window) ([]map[string]interface{}, error)
}

func (s *scriptedSession) Get(ctx context.Context, endpoint string, opts ...incontact.RequestOption) (map[string]interface{}, error) {
	o := &incontact.RequestOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return s.respond(endpoint, o.Params)
}

func (s *scriptedSession) RunExportJob(ctx context.Context, entity, version string, win incontact.Window) ([]map[string]interface{}, error) {
	return s.runJob(entity, version, win)
}

func testConfig(streamIDs ...string) *config.Config {
	cfg := config.Default()
	cfg.StartDate = "2024-04-01T00:00:00Z"
	cfg.APIKey = "k"
	cfg.APISecret = "s"
	cfg.APICluster = "c1"
	cfg.UserAgent = "engine-test"
	cfg.Streams = streamIDs
	return cfg
}

type testEngine struct {
	engine *Engine
	state  *state.State
	out    *bytes.Buffer
}

func newTestEngine(cfg *config.Config, session *scriptedSession, st *state.State) *testEngine {
	if st == nil {
		st = state.New()
	}
	out := &bytes.Buffer{}
	eng := NewEngine(EngineConfig{
		Config:  cfg,
		Session: session,
		Emitter: emit.NewEmitter(out),
		State:   st,
	})
	return &testEngine{engine: eng, state: st, out: out}
}

func decodeMessages(t *testing.T, out *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var msgs []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var msg map[string]interface{}
		require.NoError(t, jsonutil.Unmarshal([]byte(line), &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func messageTypes(msgs []map[string]interface{}) []string {
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i], _ = m["type"].(string)
	}
	return types
}

func recordsOf(msgs []map[string]interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range msgs {
		if m["type"] == "RECORD" {
			out = append(out, m["record"].(map[string]interface{}))
		}
	}
	return out
}

func TestEngineEmitsMessageSequence(t *testing.T) {
	session := &scriptedSession{
		respond: func(endpoint string, params map[string]string) (map[string]interface{}, error) {
			return map[string]interface{}{
				"skillSummaries": []interface{}{
					map[string]interface{}{"skillId": float64(3), "contactsHandled": float64(10)},
				},
			}, nil
		},
	}

	te := newTestEngine(testConfig("skills_summary"), session, nil)
	te.engine.now = func() time.Time {
		return time.Date(2024, 4, 1, 2, 0, 0, 0, time.UTC)
	}

	require.NoError(t, te.engine.Run(context.Background()))

	msgs := decodeMessages(t, te.out)
	assert.Equal(t, []string{"STATE", "SCHEMA", "RECORD", "RECORD", "STATE", "STATE"}, messageTypes(msgs))

	schemaMsg := msgs[1]
	assert.Equal(t, "skills_summary", schemaMsg["stream"])
	assert.Equal(t, []interface{}{"skillId", "startDate", "endDate"}, schemaMsg["key_properties"])
	assert.Equal(t, []interface{}{"endDate"}, schemaMsg["bookmark_properties"])

	records := recordsOf(msgs)
	require.Len(t, records, 2)
	// Coerced to integer by the schema, stamped with the window bounds.
	assert.Equal(t, float64(3), records[0]["skillId"])
	assert.Equal(t, "2024-04-01T00:00:00.000000Z", records[0]["startDate"])
	assert.Equal(t, "2024-04-01T01:00:00.000000Z", records[0]["endDate"])
	assert.Equal(t, "2024-04-01T02:00:00.000000Z", records[1]["endDate"])

	// The checkpoint after the stream carries the advanced watermark.
	bookmark := msgs[4]["value"].(map[string]interface{})["bookmarks"].(map[string]interface{})
	assert.Equal(t, "2024-04-01T02:00:00.000000Z",
		bookmark["skills_summary"].(map[string]interface{})["endDate"])

	// The final state clears currently_syncing.
	final := msgs[5]["value"].(map[string]interface{})
	assert.Nil(t, final["currently_syncing"])

	assert.Equal(t, "2024-04-01T02:00:00.000000Z",
		te.state.GetBookmark("skills_summary", "endDate", ""))
}

func TestEngineFiltersRecordsBelowWatermark(t *testing.T) {
	pages := [][]interface{}{
		{
			map[string]interface{}{"contactId": float64(1), "lastUpdateTime": "2024-04-09T23:59:59Z"},
			map[string]interface{}{"contactId": float64(2), "lastUpdateTime": "2024-04-10T00:00:00Z"},
			map[string]interface{}{"contactId": float64(3), "lastUpdateTime": "2024-04-10T12:00:00Z"},
		},
		{},
	}
	call := 0
	session := &scriptedSession{
		respond: func(endpoint string, params map[string]string) (map[string]interface{}, error) {
			page := pages[call]
			call++
			return map[string]interface{}{"completedContacts": page}, nil
		},
	}

	st := state.New()
	st.WriteBookmark("contacts_completed", "lastUpdateTime", "2024-04-10T00:00:00.000000Z")

	te := newTestEngine(testConfig("contacts_completed"), session, st)
	require.NoError(t, te.engine.Run(context.Background()))

	records := recordsOf(decodeMessages(t, te.out))
	require.Len(t, records, 2)
	assert.Equal(t, float64(2), records[0]["contactId"])
	assert.Equal(t, float64(3), records[1]["contactId"])

	assert.Equal(t, "2024-04-10T12:00:00.000000Z",
		te.state.GetBookmark("contacts_completed", "lastUpdateTime", ""))
}

func TestEngineReplayEmitsNothingOlder(t *testing.T) {
	respond := func(endpoint string, params map[string]string) (map[string]interface{}, error) {
		if params["skip"] != "0" {
			return map[string]interface{}{"completedContacts": []interface{}{}}, nil
		}
		return map[string]interface{}{
			"completedContacts": []interface{}{
				map[string]interface{}{"contactId": float64(1), "lastUpdateTime": "2024-04-09T08:00:00Z"},
				map[string]interface{}{"contactId": float64(2), "lastUpdateTime": "2024-04-10T12:00:00Z"},
			},
		}, nil
	}

	st := state.New()
	st.WriteBookmark("contacts_completed", "lastUpdateTime", "2024-04-09T00:00:00.000000Z")

	first := newTestEngine(testConfig("contacts_completed"), &scriptedSession{respond: respond}, st)
	require.NoError(t, first.engine.Run(context.Background()))
	require.Len(t, recordsOf(decodeMessages(t, first.out)), 2)

	// Replaying the same upstream data against the advanced watermark
	// re-emits only the record that equals the bookmark.
	second := newTestEngine(testConfig("contacts_completed"), &scriptedSession{respond: respond}, st)
	require.NoError(t, second.engine.Run(context.Background()))

	records := recordsOf(decodeMessages(t, second.out))
	require.Len(t, records, 1)
	assert.Equal(t, float64(2), records[0]["contactId"])
	assert.Equal(t, "2024-04-10T12:00:00.000000Z",
		st.GetBookmark("contacts_completed", "lastUpdateTime", ""))
}

func TestEngineFullTableHasNoWatermark(t *testing.T) {
	session := &scriptedSession{
		respond: func(endpoint string, params map[string]string) (map[string]interface{}, error) {
			return map[string]interface{}{
				"teams": []interface{}{
					map[string]interface{}{"teamId": float64(1), "teamName": "Tier 1"},
					map[string]interface{}{"teamId": float64(2), "teamName": "Tier 2"},
				},
			}, nil
		},
	}

	te := newTestEngine(testConfig("teams"), session, nil)
	require.NoError(t, te.engine.Run(context.Background()))

	msgs := decodeMessages(t, te.out)
	assert.Equal(t, []string{"STATE", "SCHEMA", "RECORD", "RECORD", "STATE", "STATE"}, messageTypes(msgs))

	// No bookmark_properties on the schema, no bookmark in state.
	assert.NotContains(t, msgs[1], "bookmark_properties")
	assert.Equal(t, "", te.state.GetBookmark("teams", "teamId", ""))
}

func TestEngineExportAbandonmentKeepsEarlierWindows(t *testing.T) {
	session := &scriptedSession{
		runJob: func(entity, version string, win incontact.Window) ([]map[string]interface{}, error) {
			if win.Start.Day() == 2 {
				return nil, errors.New(errors.ErrorTypeRateLimit, "rate limit exceeded")
			}
			return []map[string]interface{}{{"workflowId": "wf-1"}}, nil
		},
	}

	te := newTestEngine(testConfig("qm_workflows"), session, nil)
	te.engine.now = func() time.Time {
		return time.Date(2024, 4, 4, 0, 0, 0, 0, time.UTC)
	}

	require.NoError(t, te.engine.Run(context.Background()))

	records := recordsOf(decodeMessages(t, te.out))
	require.Len(t, records, 1)
	assert.Equal(t, "wf-1", records[0]["workflowId"])

	// The watermark advances only to the end of the last completed
	// window, so the abandoned range is retried next run.
	assert.Equal(t, "2024-04-02T00:00:00.000000Z",
		te.state.GetBookmark("qm_workflows", "endDate", ""))
}

func TestEngineSchemaMismatchIsFatal(t *testing.T) {
	session := &scriptedSession{
		respond: func(endpoint string, params map[string]string) (map[string]interface{}, error) {
			return map[string]interface{}{
				"skillSummaries": []interface{}{
					map[string]interface{}{"skillId": float64(3), "mysteryField": true},
				},
			}, nil
		},
	}

	te := newTestEngine(testConfig("skills_summary"), session, nil)
	te.engine.now = func() time.Time {
		return time.Date(2024, 4, 1, 1, 0, 0, 0, time.UTC)
	}

	err := te.engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
	assert.True(t, errors.IsFatal(err))
}

func TestEngineRejectsUnknownStreamSelection(t *testing.T) {
	te := newTestEngine(testConfig("contacts_abandoned"), &scriptedSession{}, nil)
	err := te.engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestEnginePersistsStateFile(t *testing.T) {
	session := &scriptedSession{
		respond: func(endpoint string, params map[string]string) (map[string]interface{}, error) {
			return map[string]interface{}{"teams": []interface{}{}}, nil
		},
	}

	statePath := filepath.Join(t.TempDir(), "state.json")
	st := state.New()
	out := &bytes.Buffer{}
	eng := NewEngine(EngineConfig{
		Config:    testConfig("teams"),
		Session:   session,
		Emitter:   emit.NewEmitter(out),
		State:     st,
		StatePath: statePath,
	})

	require.NoError(t, eng.Run(context.Background()))

	loaded, err := state.Load(statePath)
	require.NoError(t, err)
	assert.Nil(t, loaded.CurrentlySyncing)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-04-01T00:00:00Z", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-04-01T00:00:00.000000Z", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-04-01T12:30:45.123456Z", time.Date(2024, 4, 1, 12, 30, 45, 123456000, time.UTC)},
		{"2024-04-01T12:30:45", time.Date(2024, 4, 1, 12, 30, 45, 0, time.UTC)},
		{"2024-04-01", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	_, err := parseTimestamp("yesterday")
	require.Error(t, err)
}

func TestReplicationValue(t *testing.T) {
	_, err := replicationValue(map[string]interface{}{"other": "x"}, "endDate")
	require.Error(t, err)

	ts, err := replicationValue(map[string]interface{}{"endDate": "2024-04-01T00:00:00.000000Z"}, "endDate")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())
}
