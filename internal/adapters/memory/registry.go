package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/manthysbr/runagent/internal/core/ports"
)

var _ ports.JobRegistry = (*Registry)(nil)

// Registry keeps job records in process memory. Nothing is evicted.
type Registry struct {
	mu   sync.RWMutex
	jobs map[domain.JobID]domain.Job
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[domain.JobID]domain.Job),
	}
}

func (r *Registry) Create(ctx context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	if job.Status == "" {
		job.Status = domain.JobStatusRunning
	}
	r.jobs[job.ID] = clone(job)
	return nil
}

func (r *Registry) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return clone(job), nil
}

func (r *Registry) SetTerminal(ctx context.Context, id domain.JobID, outcome domain.JobOutcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, outcome.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrJobAlreadyTerminal, id, job.Status)
	}

	finished := outcome.FinishedAt
	job.Status = outcome.Status
	job.FinishedAt = &finished
	job.Error = outcome.Error
	if outcome.ExitCode != nil {
		code := *outcome.ExitCode
		job.ExitCode = &code
	}
	r.jobs[id] = job
	return nil
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// clone detaches the record from caller-owned memory.
func clone(job domain.Job) domain.Job {
	job.Command = slices.Clone(job.Command)
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		job.FinishedAt = &t
	}
	if job.ExitCode != nil {
		c := *job.ExitCode
		job.ExitCode = &c
	}
	return job
}
