package api

import "time"

// JobStatus is the lifecycle state of an async job.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
)

// Rank orders statuses so that a job only ever moves forward.
// done and failed share the terminal rank.
func (s JobStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusDone, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s JobStatus) Terminal() bool { return s == StatusDone || s == StatusFailed }

// JobType names the stage a job belongs to.
type JobType string

const (
	JobGenerateTests JobType = "generate_tests"
	JobRunValidators JobType = "run_validators"
	JobRunSolution   JobType = "run_solution"
	JobReview        JobType = "review"
)

// Job is the persisted record of one async job. Result is stage specific.
type Job struct {
	ID        string    `json:"id" yaml:"id"`
	Slug      string    `json:"slug" yaml:"slug"`
	Type      JobType   `json:"type" yaml:"type"`
	Status    JobStatus `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Result    any       `json:"result" yaml:"result"`
	Error     *string   `json:"error" yaml:"error"`
}
