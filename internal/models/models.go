package models

import "time"

// RevisionSummary is one entry from an article's revision history, as
// returned by the MediaWiki action API's prop=revisions list.
type RevisionSummary struct {
	RevID     int64     `json:"revid"`
	ParentID  int64     `json:"parentid"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment"`
	Size      int       `json:"size"`
}

// CandidatePair is a (clean, vandal) revision pair: Clean is the revision
// whose edit summary contains "vandal" (case-insensitive substring match,
// e.g. "rv vandalism") because it reverted the edit immediately preceding
// it in the revision log; Vandal is that preceding, vandalized revision.
type CandidatePair struct {
	Clean  RevisionSummary
	Vandal RevisionSummary
}

// SectionState is the state machine value for a per-section worker.
type SectionState int

const (
	SectionActive SectionState = iota
	SectionAbandoned
	SectionDone
)

func (s SectionState) String() string {
	switch s {
	case SectionActive:
		return "active"
	case SectionAbandoned:
		return "abandoned"
	case SectionDone:
		return "done"
	default:
		return "unknown"
	}
}

// Section is one deterministically-split slice of an article's wikitext,
// keyed by its position so that fan-out workers can be rejoined in order.
type Section struct {
	Index int
	Lines []string
}

// SectionResult is what a per-section worker reports back to the
// coordinator after processing all candidate pairs for that section.
type SectionResult struct {
	Index          int
	Text           string
	State          SectionState
	VandalismsUsed int
	TimedOut       int
	SizeGateSkips  int
}

// ReconstitutionRequest describes one inbound /wiki/{title} request.
type ReconstitutionRequest struct {
	Title     string
	RequestID string
}

// ReconstitutionResult is the outcome of running the full pipeline for a
// title: the merged wikitext body plus summary counters used for metrics,
// the progress hub, and the history/analytics sinks.
type ReconstitutionResult struct {
	Title            string        `json:"title"`
	Body             string        `json:"-"`
	SectionsTotal    int           `json:"sections_total"`
	SectionsAbandoned int          `json:"sections_abandoned"`
	VandalismsMerged int           `json:"vandalisms_merged"`
	MergesTimedOut   int           `json:"merges_timed_out"`
	SizeGateSkips    int           `json:"size_gate_skips"`
	CandidatesFound  int           `json:"candidates_found"`
	Duration         time.Duration `json:"duration_ns"`
	RenderFellBack   bool          `json:"render_fell_back"`
	CompletedAt      time.Time     `json:"completed_at"`
}

// HistorySummary is the SQLite-backed per-title last-run record surfaced by
// GET /api/history/{title}.
type HistorySummary struct {
	Title             string    `json:"title"`
	VandalismsMerged  int       `json:"vandalisms_merged"`
	SectionsAbandoned int       `json:"sections_abandoned"`
	LastRunAt         time.Time `json:"last_run_at"`
	LastRunDuration   time.Duration `json:"last_run_duration_ns"`
}

// ProgressEvent is one per-section state transition broadcast over the
// progress hub WebSocket for an in-flight reconstitution request.
type ProgressEvent struct {
	RequestID    string       `json:"request_id"`
	Title        string       `json:"title"`
	SectionIndex int          `json:"section_index"`
	State        SectionState `json:"state"`
	Timestamp    time.Time    `json:"timestamp"`
}

// MarshalJSON-friendly string form for SectionState in ProgressEvent.
func (p ProgressEvent) StateString() string { return p.State.String() }
