package models

import "time"

// JobState is the lifecycle of one crawl or batch-scrape job as seen by this
// process. Completed, Failed and TimedOut are terminal.
type JobState string

const (
	JobSubmitted  JobState = "submitted"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobTimedOut   JobState = "timedOut"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobTimedOut
}

// Job is an in-flight content service request. It lives only for the
// duration of the orchestrating request.
type Job struct {
	ID             string
	StatusEndpoint string
	State          JobState
	StartedAt      time.Time
}

// Entry is one crawled page after normalization.
type Entry struct {
	URL      string                 `json:"url"`
	Markdown string                 `json:"markdown"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
