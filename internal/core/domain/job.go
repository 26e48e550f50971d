package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status is final. A job leaves RUNNING exactly once.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is one command execution tracked by the agent.
type Job struct {
	ID         JobID      `json:"id"`
	Status     JobStatus  `json:"status"`
	Command    []string   `json:"command"`
	Workdir    string     `json:"workdir"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"` // nil when the process never started or was signalled
	Error      string     `json:"error,omitempty"`
}

// JobOutcome is the terminal transition recorded for a job.
type JobOutcome struct {
	Status     JobStatus
	ExitCode   *int
	Error      string
	FinishedAt time.Time
}

// RunRequest asks the agent to execute Command inside Workdir.
type RunRequest struct {
	Workdir string
	Command []string
}

var (
	ErrJobNotFound        = fmt.Errorf("job %w", ErrNotFound)
	ErrJobExists          = errors.New("job already exists")
	ErrJobAlreadyTerminal = errors.New("job already finished")
	ErrInvalidStatus      = fmt.Errorf("%w: status is not terminal", ErrValidation)
)

// ValidateWorkdir checks that path is absolute and free of home-directory shorthand.
// Every operation scoped to a workdir runs this before touching the filesystem.
func ValidateWorkdir(path string) error {
	if strings.Contains(path, "~") || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: workdir %q must be an absolute path", ErrValidation, path)
	}
	return nil
}

// ProcessSpec describes a child process to spawn.
type ProcessSpec struct {
	Command []string
	Dir     string
}

// ProcessResult is how a child process ended.
type ProcessResult struct {
	ExitCode int    // -1 when terminated by a signal
	State    string // human readable exit state, e.g. "exit status 1"
}

func (r ProcessResult) Success() bool {
	return r.ExitCode == 0
}
