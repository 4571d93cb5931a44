package worker

import (
	"context"
	"errors"
)

// Job is a unit of work executed by a pool worker.
type Job func(ctx context.Context) error

// Pool accepts jobs for asynchronous execution.
type Pool interface {
	SubmitJob(ctx context.Context, job Job) error
}

var ErrPoolStopped = errors.New("working pool is stopped")
