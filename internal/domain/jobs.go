package domain

import (
	"context"
	"time"
)

// DigestJobCause describes where a digest request came from.
type DigestJobCause string

const (
	// DigestCauseManual is a digest requested by hand.
	DigestCauseManual DigestJobCause = "manual"
	// DigestCauseScheduled is a digest fired by the weekly trigger.
	DigestCauseScheduled DigestJobCause = "scheduled"
)

// DigestJob is a request to build the digest for one ISO week.
type DigestJob struct {
	ID          string         `json:"job_id,omitempty"`
	Week        string         `json:"week"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       DigestJobCause `json:"cause"`
}

// DigestQueue carries digest jobs from the trigger to workers.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Receive(ctx context.Context) (DigestJob, DigestAckFunc, error)
}

// DigestAckFunc confirms a processed job or asks for redelivery.
type DigestAckFunc func(success bool) error

// DigestJobStatus tracks delivery attempts per job id.
type DigestJobStatus interface {
	// Begin registers an attempt and reports whether the job was already delivered.
	Begin(ctx context.Context, jobID string) (delivered bool, attempt int, err error)
	MarkDelivered(ctx context.Context, jobID string) error
	// RecipientDelivered reports whether the digest of jobID already reached to.
	RecipientDelivered(ctx context.Context, jobID, to string) (bool, error)
	MarkRecipient(ctx context.Context, jobID, to string) error
}
