package store

import "time"

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one pipeline invocation over a single input
type Run struct {
	ID           string     `json:"id"`
	InputPath    string     `json:"input_path"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"error,omitempty"`
	Candidates   int        `json:"candidates"`
	Skipped      int        `json:"skipped"`
	ReportPath   string     `json:"report_path,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Reels        []Reel     `json:"reels,omitempty"`
}

// Reel records one rendered output of a run
type Reel struct {
	RunID         string    `json:"run_id"`
	Index         int       `json:"index"`
	Start         float64   `json:"start"`
	End           float64   `json:"end"`
	Score         float64   `json:"score"`
	Reason        string    `json:"reason,omitempty"`
	OutputPath    string    `json:"output_path"`
	SRTPath       string    `json:"srt_path,omitempty"`
	CaptionGroups int       `json:"caption_groups"`
	CreatedAt     time.Time `json:"created_at"`
}

// Outcome is what a finished run reports back to the ledger
type Outcome struct {
	Status     Status
	Err        error
	Candidates int
	Skipped    int
	ReportPath string
}
