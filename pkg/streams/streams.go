// Package streams defines the extractable API streams and the
// extraction protocols that drive them. Each stream is a static
// Definition registered here; extraction produces a lazy record stream
// the sync engine consumes to completion.
package streams

import (
	"context"
	"time"

	"github.com/streamkit/nicesync/pkg/errors"
	"github.com/streamkit/nicesync/pkg/incontact"
)

// Kind selects the extraction protocol for a stream.
type Kind string

const (
	// KindIncremental pages through an endpoint with an offset cursor.
	KindIncremental Kind = "incremental"
	// KindWindowed issues one request per date window.
	KindWindowed Kind = "windowed"
	// KindFullTable fetches the whole collection in one request.
	KindFullTable Kind = "full_table"
	// KindExportJob drives the asynchronous data-extraction protocol.
	KindExportJob Kind = "export_job"
)

// Definition is the static description of one stream.
type Definition struct {
	ID   string
	Kind Kind

	// Path is the reporting API endpoint for REST streams. Export
	// streams use Entity and EntityVersion instead.
	Path          string
	DataKey       string
	Entity        string
	EntityVersion string

	KeyProperties  []string
	ReplicationKey string

	DefaultPeriod incontact.Period
	// PeriodFixed streams ignore configured period overrides.
	PeriodFixed bool

	// LookbackDays clamps how far back the start bound may reach.
	LookbackDays int

	// StampStart and StampEnd name the record fields that receive the
	// window bounds. Empty means startDate/endDate.
	StampStart string
	StampEnd   string

	ConvertTypes       bool
	TransformDurations bool
	FollowNextLink     bool
}

// FullTable reports whether the stream replicates without a watermark.
func (d Definition) FullTable() bool {
	return d.ReplicationKey == ""
}

func (d Definition) stampFields() (string, string) {
	if d.StampStart != "" {
		return d.StampStart, d.StampEnd
	}
	return "startDate", "endDate"
}

// registry lists every extractable stream in sync order.
var registry = []Definition{
	{
		ID:             "contacts_completed",
		Kind:           KindIncremental,
		Path:           "contacts/completed",
		DataKey:        "completedContacts",
		KeyProperties:  []string{"contactId"},
		ReplicationKey: "lastUpdateTime",
		LookbackDays:   30,
	},
	{
		ID:             "skills_summary",
		Kind:           KindWindowed,
		Path:           "skills/summary",
		DataKey:        "skillSummaries",
		KeyProperties:  []string{"skillId", "startDate", "endDate"},
		ReplicationKey: "endDate",
		DefaultPeriod:  incontact.PeriodHours,
		ConvertTypes:   true,
	},
	{
		ID:             "skills_sla_summary",
		Kind:           KindWindowed,
		Path:           "skills/sla-summary",
		DataKey:        "serviceLevelSummaries",
		KeyProperties:  []string{"skillId", "startDate", "endDate"},
		ReplicationKey: "endDate",
		DefaultPeriod:  incontact.PeriodHours,
		ConvertTypes:   true,
		FollowNextLink: true,
	},
	{
		ID:                 "teams_performance_total",
		Kind:               KindWindowed,
		Path:               "teams/performance-total",
		DataKey:            "teamPerformanceTotal",
		KeyProperties:      []string{"teamId", "startDate", "endDate"},
		ReplicationKey:     "endDate",
		DefaultPeriod:      incontact.PeriodHours,
		ConvertTypes:       true,
		TransformDurations: true,
	},
	{
		ID:             "wfm_skills_contacts",
		Kind:           KindWindowed,
		Path:           "wfm-data/skills/contacts",
		DataKey:        "contactStats",
		KeyProperties:  []string{"skillId", "intervalStartDate"},
		ReplicationKey: "endDate",
		DefaultPeriod:  incontact.PeriodHours,
		PeriodFixed:    true,
	},
	{
		ID:             "wfm_skills_dialer_contacts",
		Kind:           KindWindowed,
		Path:           "wfm-data/skills/dialer-contacts",
		DataKey:        "outboundStats",
		KeyProperties:  []string{"skillId", "intervalStartDate"},
		ReplicationKey: "endDate",
		DefaultPeriod:  incontact.PeriodHours,
		PeriodFixed:    true,
	},
	{
		ID:             "wfm_skills_agent_performance",
		Kind:           KindWindowed,
		Path:           "wfm-data/skills/agent-performance",
		DataKey:        "skillsPerformance",
		KeyProperties:  []string{"skillId", "agentId", "halfHour"},
		ReplicationKey: "endDate",
		DefaultPeriod:  incontact.PeriodHours,
	},
	{
		ID:             "wfm_agents",
		Kind:           KindWindowed,
		Path:           "wfm-data/agents",
		DataKey:        "wfoAgentSpecificStats",
		KeyProperties:  []string{"agentId", "modDateTime"},
		ReplicationKey: "endDate",
		DefaultPeriod:  incontact.PeriodHours,
	},
	{
		ID:             "wfm_agents_schedule_adherence",
		Kind:           KindWindowed,
		Path:           "wfm-data/agents/schedule-adherence",
		DataKey:        "agentStateHistory",
		KeyProperties:  []string{"agentId", "agentStateId", "startDate"},
		ReplicationKey: "callEndDate",
		DefaultPeriod:  incontact.PeriodMinutes,
		PeriodFixed:    true,
		StampStart:     "callStartDate",
		StampEnd:       "callEndDate",
	},
	{
		ID:             "wfm_agents_scorecards",
		Kind:           KindWindowed,
		Path:           "wfm-data/agents/scorecards",
		DataKey:        "wfmScorecardStats",
		KeyProperties:  []string{"agentId", "startDate"},
		ReplicationKey: "callEndDate",
		DefaultPeriod:  incontact.PeriodHours,
		StampStart:     "callStartDate",
		StampEnd:       "callEndDate",
	},
	{
		ID:            "teams",
		Kind:          KindFullTable,
		Path:          "teams",
		DataKey:       "teams",
		KeyProperties: []string{"teamId"},
	},
	{
		ID:             "qm_workflows",
		Kind:           KindExportJob,
		Entity:         "qm-workflows",
		EntityVersion:  "1",
		KeyProperties:  []string{"workflowId", "startDate"},
		ReplicationKey: "endDate",
		DefaultPeriod:  incontact.PeriodDays,
	},
}

// All returns every stream definition in sync order.
func All() []Definition {
	out := make([]Definition, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a stream definition by id.
func Lookup(id string) (Definition, bool) {
	for _, def := range registry {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}

// ResolvePeriod applies a configured period override, unless the stream
// pins its period.
func ResolvePeriod(def Definition, override string) (incontact.Period, error) {
	if def.PeriodFixed || override == "" {
		return def.DefaultPeriod, nil
	}
	return incontact.ParsePeriod(override)
}

// Session is the API surface extractors need. *incontact.Client
// satisfies it.
type Session interface {
	Get(ctx context.Context, endpoint string, opts ...incontact.RequestOption) (map[string]interface{}, error)
	RunExportJob(ctx context.Context, entity, version string, window incontact.Window) ([]map[string]interface{}, error)
}

// ExtractOptions carries the per-run bounds for one stream.
type ExtractOptions struct {
	Start  time.Time
	End    time.Time
	Period incontact.Period
}

// RecordStream is a lazily produced record sequence. Records closes
// when extraction finishes; at most one failure arrives on Errors,
// which also closes then.
type RecordStream struct {
	Records <-chan map[string]interface{}
	Errors  <-chan error
}

// sink delivers one record downstream. A non-nil return aborts the
// extraction.
type sink func(record map[string]interface{}) error

// Extract starts extraction for the stream in a producer goroutine and
// returns the record stream to consume.
func Extract(ctx context.Context, session Session, def Definition, opts ExtractOptions) *RecordStream {
	records := make(chan map[string]interface{})
	errs := make(chan error, 1)

	deliver := func(rec map[string]interface{}) error {
		select {
		case records <- rec:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(records)
		defer close(errs)
		if err := extract(ctx, session, def, opts, deliver); err != nil {
			errs <- err
		}
	}()

	return &RecordStream{Records: records, Errors: errs}
}

func extract(ctx context.Context, session Session, def Definition, opts ExtractOptions, deliver sink) error {
	switch def.Kind {
	case KindIncremental:
		return extractIncremental(ctx, session, def, opts, deliver)
	case KindWindowed:
		return extractWindowed(ctx, session, def, opts, deliver)
	case KindFullTable:
		return extractFullTable(ctx, session, def, deliver)
	case KindExportJob:
		return extractExportJob(ctx, session, def, opts, deliver)
	default:
		return errors.Newf(errors.ErrorTypeConfig, "stream %s has unknown kind %q", def.ID, def.Kind)
	}
}

// recordsFromPayload pulls the record list out of a response body.
// Entries that are not objects (the API occasionally emits nulls) are
// skipped.
func recordsFromPayload(data map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	records := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if rec, ok := item.(map[string]interface{}); ok {
			records = append(records, rec)
		}
	}
	return records
}

// stampWindow writes the window bounds onto the record, overwriting
// any fields of the same name. Stamped bounds are what make the
// replication key uniform across windowed streams.
func stampWindow(rec map[string]interface{}, def Definition, win incontact.Window) {
	startField, endField := def.stampFields()
	rec[startField] = win.StartString()
	rec[endField] = win.EndString()
}
