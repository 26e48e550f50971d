package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/manthysbr/runagent/internal/core/ports"
)

var _ ports.ProcessRunner = (*Runner)(nil)

// Runner executes host processes. Children inherit the agent environment and,
// unless overridden, its stdout and stderr.
type Runner struct {
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

type Option func(*Runner)

// WithOutput redirects child stdout and stderr. Concurrent jobs share the
// writers, so writes to them are serialized under one lock.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		mu := &sync.Mutex{}
		r.stdout = lockWriter(mu, stdout)
		r.stderr = lockWriter(mu, stderr)
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// lockWriter leaves *os.File alone: exec hands files to the child directly.
func lockWriter(mu *sync.Mutex, w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok {
		return f
	}
	return &lockedWriter{mu: mu, w: w}
}

func NewRunner(logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until the child exits. There is no timeout.
func (r *Runner) Run(spec domain.ProcessSpec) (domain.ProcessResult, error) {
	if len(spec.Command) == 0 {
		return domain.ProcessResult{}, fmt.Errorf("%w: empty command", domain.ErrSpawn)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdin = nil
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Start(); err != nil {
		return domain.ProcessResult{}, fmt.Errorf("%w: %s: %v", domain.ErrSpawn, spec.Command[0], err)
	}
	r.logger.Debug("process started", "pid", cmd.Process.Pid, "cmd", spec.Command)

	err := cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Wait failed for a reason other than the exit status (e.g. output copy).
		r.logger.Warn("process wait failed", "cmd", spec.Command, "error", err)
	}

	state := cmd.ProcessState
	if state == nil {
		return domain.ProcessResult{ExitCode: -1, State: err.Error()}, nil
	}
	return domain.ProcessResult{
		ExitCode: state.ExitCode(),
		State:    state.String(),
	}, nil
}
