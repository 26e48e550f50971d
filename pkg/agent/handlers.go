package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/manthysbr/runagent/pkg/api"
	"github.com/oapi-codegen/runtime"
)

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge(maxErr)
		}
		return badRequest(fmt.Errorf("invalid request body: %v", err))
	}
	return nil
}

func bindJobID(r *http.Request) (domain.JobID, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", badRequest(fmt.Errorf("invalid format for parameter id: %v", err))
	}
	return domain.JobID(id), nil
}

// GET /ping
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, api.Pong)
}

// POST /run
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.jobs.Run(r.Context(), domain.RunRequest{Workdir: req.Workdir, Command: req.Cmd})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, string(id))
}

// GET /wait-run/{id}
// Blocks until the job finished. An unknown id answers 500 like any other failure.
func (s *Server) handleWaitRun(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status, err := s.jobs.Wait(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		s.logger.Debug("waiter disconnected", "job_id", id)
		return
	case errors.Is(err, domain.ErrNotFound):
		s.writeErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	default:
		s.writeError(w, r, err)
		return
	}

	if status == domain.JobStatusSucceeded {
		writeText(w, http.StatusOK, api.WaitOK)
		return
	}
	writeText(w, http.StatusOK, api.WaitFailed)
}

// GET /jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := bindJobID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.jobs.Job(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := api.JobResponse{
		ID:        string(job.ID),
		Status:    string(job.Status),
		Cmd:       job.Command,
		Workdir:   job.Workdir,
		CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		ExitCode:  job.ExitCode,
		Error:     job.Error,
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /offer-files
func (s *Server) handleOfferFiles(w http.ResponseWriter, r *http.Request) {
	var req api.OfferFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	missing, err := s.files.Diff(r.Context(), req.Workdir, req.Hashes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, missing)
}

// POST /send-files
// Any failed file answers 500 with the per-file failures listed.
func (s *Server) handleSendFiles(w http.ResponseWriter, r *http.Request) {
	var req api.SendFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	files := make(map[string]domain.FileUpload, len(req.Files))
	for name, f := range req.Files {
		files[name] = domain.FileUpload{Data: f.Data, Executable: f.Executable}
	}

	if err := s.files.Push(r.Context(), req.Workdir, files); err != nil {
		var syncErr *domain.SyncError
		if errors.As(err, &syncErr) {
			s.writeErrorStatus(w, r, http.StatusInternalServerError, err)
			return
		}
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// POST /get-file
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	var req api.GetFileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := s.files.Pull(r.Context(), req.Workdir, req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeText(w, http.StatusOK, data)
}

// GET /openapi.yaml
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}
