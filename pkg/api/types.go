// Package api holds the JSON wire types shared by the agent server and its client.
package api

// Plain text bodies returned by the agent.
const (
	Pong       = "pong"
	WaitOK     = "ok"
	WaitFailed = "failed"
)

// RunRequest is the body of POST /run.
type RunRequest struct {
	Workdir string   `json:"workdir"`
	Cmd     []string `json:"cmd"`
}

// OfferFilesRequest is the body of POST /offer-files. Hashes maps a path
// relative to Workdir to the lowercase hex MD5 of the caller's copy.
type OfferFilesRequest struct {
	Workdir string            `json:"workdir"`
	Hashes  map[string]string `json:"hashes"`
}

// FileData is one file pushed by POST /send-files. Data is standard padded base64.
type FileData struct {
	Data       string `json:"data"`
	Executable bool   `json:"executable,omitempty"`
}

// SendFilesRequest is the body of POST /send-files.
type SendFilesRequest struct {
	Workdir string              `json:"workdir"`
	Files   map[string]FileData `json:"files"`
}

// GetFileRequest is the body of POST /get-file.
type GetFileRequest struct {
	Workdir string `json:"workdir"`
	Path    string `json:"path"`
}

// JobResponse is the body of GET /jobs/{id}.
type JobResponse struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Cmd        []string `json:"cmd"`
	Workdir    string   `json:"workdir"`
	CreatedAt  string   `json:"created_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
	ExitCode   *int     `json:"exit_code,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error    string        `json:"error"`
	Code     string        `json:"code"`
	Failures []FileFailure `json:"failures,omitempty"`
}

// FileFailure reports one file that could not be written by POST /send-files.
type FileFailure struct {
	Path  string `json:"path"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
