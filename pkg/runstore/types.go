package runstore

import "time"

// RunStatus is the lifecycle state of a run.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type RunStatus string

const (
	StatusQueued     RunStatus = "QUEUED"
	StatusNotStarted RunStatus = "NOT_STARTED"
	StatusStarted    RunStatus = "STARTED"
	StatusCanceling  RunStatus = "CANCELING"
	StatusCanceled   RunStatus = "CANCELED"
	StatusSuccess    RunStatus = "SUCCESS"
	StatusFailure    RunStatus = "FAILURE"
)

// IsFinished reports whether the status is terminal.
func (s RunStatus) IsFinished() bool {
	switch s {
	case StatusCanceled, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// Record is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	RunID     string            `json:"run_id"`
	JobName   string            `json:"job_name,omitempty"`
	Status    RunStatus         `json:"status"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
}

// IsFinished reports whether the run reached a terminal status.
func (r *Record) IsFinished() bool {
	return r.Status.IsFinished()
}

// Tag returns the tag value and whether it is set.
func (r *Record) Tag(key string) (string, bool) {
	if r.Tags == nil {
		return "", false
	}
	v, ok := r.Tags[key]
	return v, ok
}
