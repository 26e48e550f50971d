package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	id := domain.JobID("job-1")
	job := domain.Job{
		ID:        id,
		Status:    domain.JobStatusRunning,
		Command:   []string{"/bin/true"},
		Workdir:   "/tmp",
		CreatedAt: time.Now().UTC(),
	}

	// 1. Create
	require.NoError(t, reg.Create(ctx, job))
	assert.Equal(t, 1, reg.Len())

	// 2. Get
	fetched, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, fetched.Status)
	assert.Equal(t, []string{"/bin/true"}, fetched.Command)
	assert.Nil(t, fetched.FinishedAt)

	// 3. Terminal transition
	code := 0
	now := time.Now().UTC()
	err = reg.SetTerminal(ctx, id, domain.JobOutcome{
		Status:     domain.JobStatusSucceeded,
		ExitCode:   &code,
		FinishedAt: now,
	})
	require.NoError(t, err)

	fetched, err = reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, fetched.Status)
	require.NotNil(t, fetched.ExitCode)
	assert.Equal(t, 0, *fetched.ExitCode)
	require.NotNil(t, fetched.FinishedAt)
	assert.True(t, now.Equal(*fetched.FinishedAt))
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	job := domain.Job{ID: "dup", Status: domain.JobStatusRunning}
	require.NoError(t, reg.Create(ctx, job))

	err := reg.Create(ctx, job)
	assert.ErrorIs(t, err, domain.ErrJobExists)
}

func TestRegistry_CreateDefaultsToRunning(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, domain.Job{ID: "j"}))
	job, err := reg.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_SetTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown job", func(t *testing.T) {
		reg := NewRegistry()
		err := reg.SetTerminal(ctx, "missing", domain.JobOutcome{Status: domain.JobStatusFailed})
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("non terminal status", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Create(ctx, domain.Job{ID: "a", Status: domain.JobStatusRunning}))

		err := reg.SetTerminal(ctx, "a", domain.JobOutcome{Status: domain.JobStatusRunning})
		assert.ErrorIs(t, err, domain.ErrInvalidStatus)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("second transition rejected", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Create(ctx, domain.Job{ID: "b", Status: domain.JobStatusRunning}))
		require.NoError(t, reg.SetTerminal(ctx, "b", domain.JobOutcome{Status: domain.JobStatusFailed, Error: "boom"}))

		err := reg.SetTerminal(ctx, "b", domain.JobOutcome{Status: domain.JobStatusSucceeded})
		assert.ErrorIs(t, err, domain.ErrJobAlreadyTerminal)

		job, err := reg.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Equal(t, "boom", job.Error)
	})
}

func TestRegistry_CopiesRecords(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	cmd := []string{"/bin/echo", "hi"}
	require.NoError(t, reg.Create(ctx, domain.Job{ID: "c", Command: cmd}))
	cmd[0] = "/bin/rm"

	job, err := reg.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "/bin/echo", job.Command[0])

	job.Command[1] = "changed"
	again, err := reg.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Command[1])
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.JobID(fmt.Sprintf("job-%d", i))
			assert.NoError(t, reg.Create(ctx, domain.Job{ID: id, Status: domain.JobStatusRunning}))
			_, err := reg.Get(ctx, id)
			assert.NoError(t, err)
			assert.NoError(t, reg.SetTerminal(ctx, id, domain.JobOutcome{Status: domain.JobStatusSucceeded}))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, reg.Len())
}
