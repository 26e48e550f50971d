package domain

import "fmt"

// FileUpload is one pushed file. Data is standard base64 and is decoded by the
// sync service so decode failures are reported per file.
type FileUpload struct {
	Data       string
	Executable bool
}

var ErrFileNotFound = fmt.Errorf("file %w", ErrNotFound)
