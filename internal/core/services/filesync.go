package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/manthysbr/runagent/pkg/fingerprint"
	"golang.org/x/sync/errgroup"
)

// SyncConfig tunes the file sync service.
type SyncConfig struct {
	ExecutableMode  os.FileMode // applied to pushed files flagged executable
	HashConcurrency int         // files hashed in parallel by Diff
}

// FileSyncService moves files in and out of a workdir. Every call is
// stateless; paths are resolved inside a filesystem chrooted at the workdir.
type FileSyncService struct {
	logger *slog.Logger
	cfg    SyncConfig
	open   func(workdir string) billy.Filesystem
}

func NewFileSyncService(logger *slog.Logger, cfg SyncConfig) *FileSyncService {
	if cfg.ExecutableMode == 0 {
		cfg.ExecutableMode = 0o777
	}
	if cfg.HashConcurrency <= 0 {
		cfg.HashConcurrency = 8
	}
	return &FileSyncService{
		logger: logger,
		cfg:    cfg,
		open: func(workdir string) billy.Filesystem {
			return osfs.New(workdir)
		},
	}
}

// Diff returns the names whose local content is missing, unreadable or
// differs from the offered fingerprint. Order is not significant.
func (s *FileSyncService) Diff(ctx context.Context, workdir string, hashes map[string]string) ([]string, error) {
	if err := domain.ValidateWorkdir(workdir); err != nil {
		return nil, err
	}
	wfs := s.open(workdir)

	var (
		mu      sync.Mutex
		missing = make([]string, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.HashConcurrency)

	for name, want := range hashes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			got, err := fingerprint.File(wfs, name)
			if err != nil || got != want {
				if err != nil && !errors.Is(err, fs.ErrNotExist) {
					s.logger.Debug("offered file unreadable", "workdir", workdir, "path", name, "error", err)
				}
				mu.Lock()
				missing = append(missing, name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.Sort(missing)
	return missing, nil
}

// Push writes every file, continuing past failures. The returned error is a
// *domain.SyncError listing each file that could not be written.
func (s *FileSyncService) Push(ctx context.Context, workdir string, files map[string]domain.FileUpload) error {
	if err := domain.ValidateWorkdir(workdir); err != nil {
		return err
	}
	wfs := s.open(workdir)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	var failures []domain.FileFailure
	for _, name := range names {
		if err := s.pushOne(wfs, name, files[name]); err != nil {
			s.logger.Warn("failed to write file", "workdir", workdir, "path", name, "error", err)
			failures = append(failures, domain.FileFailure{Path: name, Err: err})
		}
	}

	if len(failures) > 0 {
		return &domain.SyncError{Op: "send-files", Failures: failures}
	}
	s.logger.Debug("files written", "workdir", workdir, "count", len(files))
	return nil
}

func (s *FileSyncService) pushOne(wfs billy.Filesystem, name string, file domain.FileUpload) error {
	// Parents are created best effort; a real problem shows up on write.
	if dir := path.Dir(name); dir != "." && dir != "/" {
		_ = wfs.MkdirAll(dir, 0o777)
	}

	data, err := base64.StdEncoding.DecodeString(file.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	if err := util.WriteFile(wfs, name, data, 0o666); err != nil {
		return classifyFSError(err)
	}

	if file.Executable {
		if err := chmod(wfs, name, s.cfg.ExecutableMode); err != nil {
			return classifyFSError(err)
		}
	}
	return nil
}

// chmod falls back to the host path for osfs, which has no billy.Change.
// name already passed the chroot boundary check on write.
func chmod(wfs billy.Filesystem, name string, mode os.FileMode) error {
	if ch, ok := wfs.(billy.Change); ok {
		return ch.Chmod(name, mode)
	}
	return os.Chmod(wfs.Join(wfs.Root(), name), mode)
}

// Pull returns the base64 encoded content of a single file.
func (s *FileSyncService) Pull(ctx context.Context, workdir, name string) (string, error) {
	if err := domain.ValidateWorkdir(workdir); err != nil {
		return "", err
	}

	data, err := util.ReadFile(s.open(workdir), name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrFileNotFound, name)
		}
		return "", classifyFSError(err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func classifyFSError(err error) error {
	switch {
	case errors.Is(err, billy.ErrCrossedBoundary):
		return fmt.Errorf("%w: path escapes workdir", domain.ErrValidation)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", domain.ErrFileNotFound, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
}
