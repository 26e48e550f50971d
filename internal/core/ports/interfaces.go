package ports

import (
	"context"

	"github.com/manthysbr/runagent/internal/core/domain"
)

// JobRegistry is the source of truth for job lifecycle state.
type JobRegistry interface {
	// Create inserts a new job record. Fails with domain.ErrJobExists on id reuse.
	Create(ctx context.Context, job domain.Job) error

	// Get returns a copy of the job record or domain.ErrJobNotFound.
	Get(ctx context.Context, id domain.JobID) (domain.Job, error)

	// SetTerminal records the single terminal transition of a job.
	SetTerminal(ctx context.Context, id domain.JobID, outcome domain.JobOutcome) error
}

// ProcessRunner spawns a child process and blocks until it exits.
type ProcessRunner interface {
	// Run returns an error wrapping domain.ErrSpawn when the process could not be started.
	// A started process always yields a ProcessResult, whatever its exit code.
	Run(spec domain.ProcessSpec) (domain.ProcessResult, error)
}
