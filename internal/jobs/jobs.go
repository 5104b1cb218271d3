// Package jobs tracks the progress of bulk dispatch jobs and guards against
// starting the same job twice.
package jobs

import (
	"context"
	"errors"
	"time"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"

	DefaultTTL = 24 * time.Hour
)

var ErrJobNotFound = errors.New("dispatch job not found")

// Progress is the externally visible state of one job
type Progress struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Provider   string    `json:"provider"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tracker records job progress.
type Tracker interface {
	// Queue records a job accepted for later execution.
	Queue(ctx context.Context, id, provider string) error
	Start(ctx context.Context, id, provider string, total int) error
	Advance(ctx context.Context, id string, success bool) error
	Finish(ctx context.Context, id, status string) error
	Get(ctx context.Context, id string) (*Progress, error)
}

// Idempotency claims request keys so a retried request maps onto the job it
// already started.
type Idempotency interface {
	// Claim returns the job id now bound to key and whether this call bound it.
	Claim(ctx context.Context, key, jobID string) (string, bool, error)
	// Release frees key if it is still bound to jobID, so a request that
	// failed before starting its job can be retried.
	Release(ctx context.Context, key, jobID string) error
}
