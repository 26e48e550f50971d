package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/manthysbr/runagent/internal/core/ports"
)

// JobRunner owns the job lifecycle: validate, register, execute in the
// background, commit the terminal state and only then signal waiters.
type JobRunner struct {
	logger   *slog.Logger
	registry ports.JobRegistry
	runner   ports.ProcessRunner
	hub      *NotificationHub
	pool     *ExecutionPool

	now   func() time.Time
	newID func() domain.JobID
}

func NewJobRunner(
	logger *slog.Logger,
	registry ports.JobRegistry,
	runner ports.ProcessRunner,
	hub *NotificationHub,
	pool *ExecutionPool,
) *JobRunner {
	return &JobRunner{
		logger:   logger,
		registry: registry,
		runner:   runner,
		hub:      hub,
		pool:     pool,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() domain.JobID { return domain.JobID(uuid.NewString()) },
	}
}

// Run registers a RUNNING job and returns its id without waiting for the process.
// A closed pool is refused before anything is registered.
func (s *JobRunner) Run(ctx context.Context, req domain.RunRequest) (domain.JobID, error) {
	if err := domain.ValidateWorkdir(req.Workdir); err != nil {
		return "", err
	}
	if len(req.Command) == 0 || req.Command[0] == "" {
		return "", fmt.Errorf("%w: cmd must name an executable", domain.ErrValidation)
	}

	if s.pool.Closed() {
		return "", fmt.Errorf("%w: agent shutting down", domain.ErrUnavailable)
	}

	// Best effort: a missing workdir surfaces later as a spawn failure.
	if err := os.MkdirAll(req.Workdir, 0o777); err != nil {
		s.logger.Warn("failed to create workdir", "workdir", req.Workdir, "error", err)
	}

	job := domain.Job{
		ID:        s.newID(),
		Status:    domain.JobStatusRunning,
		Command:   req.Command,
		Workdir:   req.Workdir,
		CreatedAt: s.now(),
	}
	if err := s.registry.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to register job: %w", err)
	}

	err := s.pool.Submit(
		func() { s.execute(job) },
		func(err error) { s.fail(job, err) },
	)
	if err != nil {
		// lost a race with Close; fail the record so it never reads as running
		s.fail(job, err)
		return "", err
	}
	s.logger.Info("job started", "job_id", job.ID, "cmd", job.Command, "workdir", job.Workdir)
	return job.ID, nil
}

func (s *JobRunner) execute(job domain.Job) {
	res, err := s.runner.Run(domain.ProcessSpec{Command: job.Command, Dir: job.Workdir})
	if err != nil {
		s.fail(job, err)
		return
	}

	code := res.ExitCode
	outcome := domain.JobOutcome{
		Status:     domain.JobStatusSucceeded,
		ExitCode:   &code,
		FinishedAt: s.now(),
	}
	if !res.Success() {
		outcome.Status = domain.JobStatusFailed
		outcome.Error = fmt.Errorf("%w: %s", domain.ErrProcessFailure, res.State).Error()
		if code < 0 {
			outcome.ExitCode = nil
		}
	}
	s.finish(job, outcome)
}

func (s *JobRunner) fail(job domain.Job, err error) {
	s.finish(job, domain.JobOutcome{
		Status:     domain.JobStatusFailed,
		Error:      err.Error(),
		FinishedAt: s.now(),
	})
}

// finish commits the outcome before signalling so a woken waiter always
// observes the terminal state.
func (s *JobRunner) finish(job domain.Job, outcome domain.JobOutcome) {
	if err := s.registry.SetTerminal(context.Background(), job.ID, outcome); err != nil {
		s.logger.Error("failed to record job outcome", "job_id", job.ID, "error", err)
	}

	attrs := []any{"job_id", job.ID, "cmd", job.Command, "workdir", job.Workdir}
	if outcome.Status == domain.JobStatusSucceeded {
		s.logger.Info("job succeeded", attrs...)
	} else {
		if outcome.ExitCode != nil {
			attrs = append(attrs, "exit_code", *outcome.ExitCode)
		}
		s.logger.Error("job failed", append(attrs, "error", outcome.Error)...)
	}

	s.hub.Notify(job.ID)
}

// Wait blocks until the job is terminal. The subscription is taken before the
// first registry read so a completion between the two is never missed.
func (s *JobRunner) Wait(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	wake, unsub := s.hub.Subscribe(id)
	defer unsub()

	for {
		job, err := s.registry.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if job.Status.Terminal() {
			return job.Status, nil
		}

		select {
		case _, ok := <-wake:
			if !ok {
				return s.lastLook(ctx, id)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// lastLook reads the registry once after the hub closed.
func (s *JobRunner) lastLook(ctx context.Context, id domain.JobID) (domain.JobStatus, error) {
	job, err := s.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status.Terminal() {
		return job.Status, nil
	}
	return "", fmt.Errorf("%w: notification hub closed while job %s is running", domain.ErrUnavailable, id)
}

// Job returns the current record.
func (s *JobRunner) Job(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := s.registry.Get(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		return domain.Job{}, err
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to read job: %w", err)
	}
	return job, nil
}
