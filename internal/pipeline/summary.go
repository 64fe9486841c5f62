package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CompletionMarker is the line printed to stdout when a run has committed
// its outputs. Schedulers grep for it.
func CompletionMarker(runID string) string {
	return fmt.Sprintf("DONOR-GEO RUN COMPLETE run_id=%s", runID)
}

// Summary reports what a run did.
type Summary struct {
	RunID      string    `yaml:"run_id"`
	BatchID    string    `yaml:"batch_id,omitempty"`
	Mode       string    `yaml:"mode"`
	DryRun     bool      `yaml:"dry_run,omitempty"`
	State      State     `yaml:"state"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Error      string    `yaml:"error,omitempty"`

	Stages []StageResult `yaml:"stages"`
	Counts Counts        `yaml:"counts"`
	// FailedByReason counts geocode failures by kind.
	FailedByReason map[string]int `yaml:"failed_by_reason,omitempty"`

	MasterRecords int            `yaml:"master_records"`
	Layers        []LayerSummary `yaml:"layers,omitempty"`
	Ambiguous     []AmbiguousRow `yaml:"ambiguous,omitempty"`
	Skipped       []SkippedRow   `yaml:"skipped,omitempty"`
}

// Counts are the per-run tallies.
type Counts struct {
	Processed       int `yaml:"processed"`
	Matched         int `yaml:"matched"`
	Created         int `yaml:"created"`
	Updated         int `yaml:"updated"`
	Unchanged       int `yaml:"unchanged"`
	Ambiguous       int `yaml:"ambiguous"`
	Skipped         int `yaml:"skipped"`
	InterestsJoined int `yaml:"interests_joined,omitempty"`

	GeocodeAttempted int `yaml:"geocode_attempted"`
	Geocoded         int `yaml:"geocoded"`
	CacheHits        int `yaml:"cache_hits"`
	Unresolved       int `yaml:"unresolved"`
	Stale            int `yaml:"stale"`
}

// StageResult records one completed stage.
type StageResult struct {
	State      State `yaml:"state"`
	DurationMS int64 `yaml:"duration_ms"`
}

// LayerSummary describes one written layer.
type LayerSummary struct {
	Label   string `yaml:"label"`
	File    string `yaml:"file"`
	Records int    `yaml:"records"`
}

// AmbiguousRow is an incoming row held out for review.
type AmbiguousRow struct {
	Row        int      `yaml:"row"`
	Name       string   `yaml:"name"`
	Candidates []string `yaml:"candidates"`
}

// SkippedRow is an incoming row that could not become a record.
type SkippedRow struct {
	Row    int    `yaml:"row"`
	Reason string `yaml:"reason"`
}

func (s *Summary) failed(kind string) {
	if s.FailedByReason == nil {
		s.FailedByReason = make(map[string]int)
	}
	s.FailedByReason[kind]++
}

// WriteSummary writes s as YAML to path.
func WriteSummary(path string, s *Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal summary")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write summary %s", path)
	}
	return nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read summary %s", path)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse summary %s", path)
	}
	return &s, nil
}
