// Package client is the controller side of the runagent HTTP protocol.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/manthysbr/runagent/pkg/api"
	"github.com/manthysbr/runagent/pkg/fingerprint"
)

// APIError is a non-2xx answer from the agent.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Failures   []api.FileFailure
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("agent returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("agent returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// LocalFile is a file the controller wants present in a workdir.
type LocalFile struct {
	Data       []byte
	Executable bool
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Wait can block for as long as
// the remote job runs, so avoid a global timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithUnixSocket dials the agent over a Unix socket. The host part of the
// base URL is then ignored.
func WithUnixSocket(path string) Option {
	return func(c *Client) {
		var d net.Dialer
		c.http = &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return d.DialContext(ctx, "unix", path)
				},
			},
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Ping(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	if string(body) != api.Pong {
		return fmt.Errorf("unexpected ping answer %q", body)
	}
	return nil
}

// Run starts cmd in workdir and returns the job id.
func (c *Client) Run(ctx context.Context, workdir string, cmd ...string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/run", api.RunRequest{Workdir: workdir, Cmd: cmd})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Wait blocks until the job finished and reports whether it succeeded.
func (c *Client) Wait(ctx context.Context, id string) (bool, error) {
	body, err := c.do(ctx, http.MethodGet, "/wait-run/"+id, nil)
	if err != nil {
		return false, err
	}
	switch string(body) {
	case api.WaitOK:
		return true, nil
	case api.WaitFailed:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected wait answer %q", body)
	}
}

// Job returns the agent's record of a job.
func (c *Client) Job(ctx context.Context, id string) (api.JobResponse, error) {
	var job api.JobResponse
	body, err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil)
	if err != nil {
		return job, err
	}
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// OfferFiles returns the paths whose remote content differs from hashes.
func (c *Client) OfferFiles(ctx context.Context, workdir string, hashes map[string]string) ([]string, error) {
	body, err := c.do(ctx, http.MethodPost, "/offer-files", api.OfferFilesRequest{Workdir: workdir, Hashes: hashes})
	if err != nil {
		return nil, err
	}
	var needed []string
	if err := json.Unmarshal(body, &needed); err != nil {
		return nil, fmt.Errorf("decode offer-files answer: %w", err)
	}
	return needed, nil
}

// SendFiles uploads files. A partial failure returns an *APIError listing the failed paths.
func (c *Client) SendFiles(ctx context.Context, workdir string, files map[string]LocalFile) error {
	req := api.SendFilesRequest{Workdir: workdir, Files: make(map[string]api.FileData, len(files))}
	for name, f := range files {
		req.Files[name] = api.FileData{
			Data:       base64.StdEncoding.EncodeToString(f.Data),
			Executable: f.Executable,
		}
	}
	_, err := c.do(ctx, http.MethodPost, "/send-files", req)
	return err
}

// GetFile downloads one file from workdir.
func (c *Client) GetFile(ctx context.Context, workdir, path string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodPost, "/get-file", api.GetFileRequest{Workdir: workdir, Path: path})
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode file %q: %w", path, err)
	}
	return data, nil
}

// Sync makes workdir hold files, sending only what the agent reports as
// missing or different. It returns the paths that were sent.
func (c *Client) Sync(ctx context.Context, workdir string, files map[string]LocalFile) ([]string, error) {
	hashes := make(map[string]string, len(files))
	for name, f := range files {
		hashes[name] = fingerprint.Bytes(f.Data)
	}

	needed, err := c.OfferFiles(ctx, workdir, hashes)
	if err != nil {
		return nil, err
	}
	if len(needed) == 0 {
		return needed, nil
	}

	send := make(map[string]LocalFile, len(needed))
	for _, name := range needed {
		f, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("agent requested unknown file %q", name)
		}
		send[name] = f
	}
	if err := c.SendFiles(ctx, workdir, send); err != nil {
		return nil, err
	}
	return needed, nil
}

// SyncFS syncs every regular file below root in src. Files with any execute
// bit set are sent as executable.
func (c *Client) SyncFS(ctx context.Context, workdir string, src billy.Filesystem, root string) ([]string, error) {
	files := make(map[string]LocalFile)
	err := util.Walk(src, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := util.ReadFile(src, path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = LocalFile{Data: data, Executable: info.Mode().Perm()&0o111 != 0}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", root, err)
	}
	return c.Sync(ctx, workdir, files)
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var er api.ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			apiErr.Code = er.Code
			apiErr.Message = er.Error
			apiErr.Failures = er.Failures
		}
		return nil, apiErr
	}
	return body, nil
}
