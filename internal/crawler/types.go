package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the checkpoint store.
const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusRunning     JobStatus = "running"
	JobStatusFinished    JobStatus = "finished"
	JobStatusError       JobStatus = "error"
	JobStatusInterrupted JobStatus = "interrupted"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusFinished, JobStatusError, JobStatusInterrupted:
		return true
	default:
		return false
	}
}

// JobParameters captures the selections a client made when submitting a crawl.
type JobParameters struct {
	// Years is the outer fan-out dimension.
	Years []int `json:"years" mapstructure:"years"`
	// Countries scopes athlete discovery (country codes or numeric source ids).
	Countries []string `json:"countries" mapstructure:"countries"`
	// Tours is the allow-list for the inner fan-out dimension. Empty means all.
	Tours []string `json:"tours" mapstructure:"tours"`
	// Entities filters athletes by exact id or case-insensitive name substring.
	Entities []string `json:"entities" mapstructure:"entities"`
	// Locations filters events by case-insensitive location substring.
	Locations           []string `json:"locations" mapstructure:"locations"`
	MaxWorkers          int      `json:"max_workers" mapstructure:"max_workers"`
	RequestDelaySeconds float64  `json:"request_delay_seconds" mapstructure:"request_delay_seconds"`
}

// RequestDelay converts the configured pacing into a duration.
func (p JobParameters) RequestDelay() time.Duration {
	return time.Duration(p.RequestDelaySeconds * float64(time.Second))
}

// Clone returns a deep copy of p.
func (p JobParameters) Clone() JobParameters {
	cp := p
	cp.Years = append([]int(nil), p.Years...)
	cp.Countries = append([]string(nil), p.Countries...)
	cp.Tours = append([]string(nil), p.Tours...)
	cp.Entities = append([]string(nil), p.Entities...)
	cp.Locations = append([]string(nil), p.Locations...)
	return cp
}

// Progress tracks how many athletes a running job has processed.
type Progress struct {
	Total      int      `json:"total"`
	Done       int      `json:"done"`
	ETASeconds *float64 `json:"eta_seconds,omitempty"`
}

// Summary is attached to a job once it finishes.
type Summary struct {
	TotalEntities    int     `json:"total_entities"`
	TotalSubRecords  int     `json:"total_sub_records"`
	TotalLeafRecords int     `json:"total_leaf_records"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Logs       []string      `json:"logs"`
	Progress   Progress      `json:"progress"`
	Summary    *Summary      `json:"summary,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the job table.
func (j Job) Clone() Job {
	cp := j
	cp.Parameters = j.Parameters.Clone()
	cp.Logs = append([]string(nil), j.Logs...)
	if j.Started != nil {
		t := *j.Started
		cp.Started = &t
	}
	if j.Finished != nil {
		t := *j.Finished
		cp.Finished = &t
	}
	if j.Progress.ETASeconds != nil {
		eta := *j.Progress.ETASeconds
		cp.Progress.ETASeconds = &eta
	}
	if j.Summary != nil {
		s := *j.Summary
		cp.Summary = &s
	}
	return cp
}

// EntityDescriptor identifies one athlete found during discovery.
type EntityDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	SourceRef   string `json:"source_ref"`
}

// SubRecord is one event an athlete took part in.
type SubRecord struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Location     string       `json:"location"`
	CategoryTag  string       `json:"category_tag"`
	Year         int          `json:"year"`
	StartDate    string       `json:"start_date,omitempty"`
	EndDate      string       `json:"end_date,omitempty"`
	FinalRank    *int         `json:"final_rank,omitempty"`
	PointsEarned *float64     `json:"points_earned,omitempty"`
	AvgHeatScore *float64     `json:"avg_heat_score,omitempty"`
	AvgWaveScore *float64     `json:"avg_wave_score,omitempty"`
	SourceRef    string       `json:"source_ref,omitempty"`
	Children     []LeafRecord `json:"children"`
}

// LeafRecord is one heat inside an event.
type LeafRecord struct {
	ID         string    `json:"id"`
	RoundLabel string    `json:"round_label"`
	Position   int       `json:"position"`
	TotalScore float64   `json:"total_score"`
	SubScores  []float64 `json:"sub_scores"`
	Advanced   bool      `json:"advanced"`
	Date       string    `json:"date,omitempty"`
}

// EntityResult is the unit of incremental persistence: one athlete and its events.
type EntityResult struct {
	Descriptor EntityDescriptor `json:"descriptor"`
	SubRecords []SubRecord      `json:"sub_records"`
	Error      string           `json:"error,omitempty"`
}

// LeafCount returns the number of heats across all events.
func (r EntityResult) LeafCount() int {
	n := 0
	for _, sub := range r.SubRecords {
		n += len(sub.Children)
	}
	return n
}

// DetailStats are the labeled event statistics found on an event detail page.
type DetailStats struct {
	FinalRank    *int
	PointsEarned *float64
	AvgHeatScore *float64
	AvgWaveScore *float64
}

// Document is a fetched page handed to the Parser.
type Document struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OptionSet is the universe of selectable values offered to clients.
type OptionSet struct {
	Years     []int              `json:"years"`
	Tours     []string           `json:"tours"`
	Locations []string           `json:"locations"`
	Entities  []EntityDescriptor `json:"entities"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ArtifactRef points at one written dataset artifact.
type ArtifactRef struct {
	Name   string `json:"name"`
	URI    string `json:"uri"`
	SHA256 string `json:"sha256"`
	Rows   int    `json:"rows"`
	Bytes  int    `json:"bytes"`
}

// RunManifest describes the most recent assembled dataset.
type RunManifest struct {
	JobID       string        `json:"job_id"`
	RunDir      string        `json:"run_dir"`
	GeneratedAt time.Time     `json:"generated_at"`
	Artifacts   []ArtifactRef `json:"artifacts"`
	Latest      []ArtifactRef `json:"latest"`
	Summary     Summary       `json:"summary"`
}
