package api

import "time"

// MsgType is the kind of job event published to subscribers.
type MsgType string

const (
	JobCreatedMsg  MsgType = "job_created"
	JobProgressMsg MsgType = "job_progress"
	JobFinishedMsg MsgType = "job_finished"
)

// Size limits for error text carried in events.
const (
	MaxErrorHeight = 40
	MaxErrorWidth  = 160
)

type Header struct {
	JobID   string  `json:"job_id"`
	MsgType MsgType `json:"msg_type"`
}

// JobEvent is published after every job write. It omits the result payload;
// subscribers poll the job for it.
type JobEvent struct {
	Header
	Slug      string    `json:"slug"`
	Type      JobType   `json:"type"`
	Status    JobStatus `json:"status"`
	Error     *string   `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewHeader(jobID string, msgType MsgType) Header {
	return Header{JobID: jobID, MsgType: msgType}
}

// NewJobEvent picks the message type from the job's status.
func NewJobEvent(job Job) JobEvent {
	msgType := JobProgressMsg
	switch {
	case job.Status == StatusPending:
		msgType = JobCreatedMsg
	case job.Status.Terminal():
		msgType = JobFinishedMsg
	}
	return JobEvent{
		Header:    NewHeader(job.ID, msgType),
		Slug:      job.Slug,
		Type:      job.Type,
		Status:    job.Status,
		Error:     job.Error,
		UpdatedAt: job.UpdatedAt,
	}
}
