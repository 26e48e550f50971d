package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/manthysbr/runagent/internal/adapters/memory"
	"github.com/manthysbr/runagent/internal/adapters/process"
	"github.com/manthysbr/runagent/internal/core/services"
	"github.com/manthysbr/runagent/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAgent(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	hub := services.NewNotificationHub(logger)
	pool := services.NewExecutionPool(logger, services.PoolConfig{MaxConcurrent: 4})
	runner := process.NewRunner(logger, process.WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	jobs := services.NewJobRunner(logger, memory.NewRegistry(), runner, hub, pool)
	files := services.NewFileSyncService(logger, services.SyncConfig{})

	server, err := agent.NewServer(logger, agent.Config{MaxBodyBytes: 1 << 30, ValidateRequests: true}, jobs, files)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		pool.Close()
		hub.Close()
	})
	return New(ts.URL + "/")
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_PingRunWait(t *testing.T) {
	c := newAgent(t)
	ctx := testCtx(t)

	require.NoError(t, c.Ping(ctx))

	id, err := c.Run(ctx, t.TempDir(), "/bin/true")
	require.NoError(t, err)
	ok, err := c.Wait(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	id, err = c.Run(ctx, t.TempDir(), "/bin/false")
	require.NoError(t, err)
	ok, err = c.Wait(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", job.Status)
	assert.Equal(t, []string{"/bin/false"}, job.Cmd)
}

func TestClient_Errors(t *testing.T) {
	c := newAgent(t)
	ctx := testCtx(t)

	_, err := c.Run(ctx, "relative/path", "/bin/true")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "INVALID_INPUT", apiErr.Code)

	_, err = c.Wait(ctx, "unknown")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	_, err = c.GetFile(ctx, t.TempDir(), "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_Sync(t *testing.T) {
	c := newAgent(t)
	ctx := testCtx(t)
	workdir := t.TempDir()

	files := map[string]LocalFile{
		"run.sh":      {Data: []byte("#!/bin/sh\ntest -f data/in.txt\n"), Executable: true},
		"data/in.txt": {Data: []byte("input")},
	}

	sent, err := c.Sync(ctx, workdir, files)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run.sh", "data/in.txt"}, sent)

	// second sync is a no-op
	sent, err = c.Sync(ctx, workdir, files)
	require.NoError(t, err)
	assert.Empty(t, sent)

	// only the changed file travels
	files["data/in.txt"] = LocalFile{Data: []byte("changed")}
	sent, err = c.Sync(ctx, workdir, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/in.txt"}, sent)

	data, err := c.GetFile(ctx, workdir, "data/in.txt")
	require.NoError(t, err)
	assert.Equal(t, "changed", string(data))

	id, err := c.Run(ctx, workdir, "./run.sh")
	require.NoError(t, err)
	ok, err := c.Wait(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_SyncFS(t *testing.T) {
	c := newAgent(t)
	ctx := testCtx(t)
	workdir := t.TempDir()

	src := memfs.New()
	require.NoError(t, util.WriteFile(src, "project/bin/tool", []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, util.WriteFile(src, "project/README", []byte("docs"), 0o644))

	sent, err := c.SyncFS(ctx, workdir, src, "project")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bin/tool", "README"}, sent)

	info, err := os.Stat(filepath.Join(workdir, "bin", "tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)

	content, err := os.ReadFile(filepath.Join(workdir, "README"))
	require.NoError(t, err)
	assert.Equal(t, "docs", string(content))
}

func TestClient_PartialSendFailure(t *testing.T) {
	c := newAgent(t)
	ctx := testCtx(t)
	workdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workdir, "taken"), 0o755))

	err := c.SendFiles(ctx, workdir, map[string]LocalFile{
		"fine":  {Data: []byte("ok")},
		"taken": {Data: []byte("a directory is in the way")},
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	require.Len(t, apiErr.Failures, 1)
	assert.Equal(t, "taken", apiErr.Failures[0].Path)
	assert.Equal(t, "IO_ERROR", apiErr.Failures[0].Code)
}

func TestClient_UnixSocket(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	dir, err := os.MkdirTemp("", "runagent")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "agent.sock")

	hub := services.NewNotificationHub(logger)
	pool := services.NewExecutionPool(logger, services.PoolConfig{})
	runner := process.NewRunner(logger, process.WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	jobs := services.NewJobRunner(logger, memory.NewRegistry(), runner, hub, pool)
	files := services.NewFileSyncService(logger, services.SyncConfig{})

	server, err := agent.NewServer(logger, agent.Config{SocketPath: socket, MaxBodyBytes: 1 << 20}, jobs, files)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- server.Start() }()
	t.Cleanup(func() {
		pool.Close()
		hub.Close()
		require.NoError(t, server.Shutdown(context.Background()))
		require.NoError(t, <-done)
	})

	c := New("http://agent", WithUnixSocket(socket))
	ctx := testCtx(t)
	require.Eventually(t, func() bool { return c.Ping(ctx) == nil }, 5*time.Second, 20*time.Millisecond)

	info, err := os.Stat(socket)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	id, err := c.Run(ctx, t.TempDir(), "/bin/sh", "-c", "exit 0")
	require.NoError(t, err)
	ok, err := c.Wait(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}
