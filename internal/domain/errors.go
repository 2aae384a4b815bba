package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrEncoding            = errors.New("image encoding failed")
	ErrInvalidRequest      = errors.New("provider rejected request")
	ErrTransientSubmission = errors.New("transient submission failure")
	ErrProtocol            = errors.New("provider protocol violation")
	ErrTimeout             = errors.New("generation timed out")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrGenerationCancelled = errors.New("generation cancelled by provider")
	ErrPersistence         = errors.New("persistence failed")
	ErrCancelled           = errors.New("cancelled")
)

// GenerationError carries provider context for a failed generation. It matches
// its Kind sentinel and the underlying cause with errors.Is.
type GenerationError struct {
	Kind       error
	JobID      string
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("generation error")
	}
	if e.JobID != "" {
		fmt.Fprintf(&b, " (job %s)", e.JobID)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " [http %d]", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GenerationError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// PersistStage names the step of the persistence unit of work that failed.
type PersistStage string

const (
	PersistStageFetch     PersistStage = "fetch"
	PersistStageUpload    PersistStage = "upload"
	PersistStageInsert    PersistStage = "insert"
	PersistStageCancelled PersistStage = "cancelled"
)

// StoredObject identifies one blob in object storage.
type StoredObject struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// PersistenceError reports a failed persistence attempt after a successful
// generation. Failed lists the artifacts that could not be written, Orphaned
// the blobs that could not be rolled back.
type PersistenceError struct {
	Stage    PersistStage
	Failed   []ArtifactRole
	Orphaned []StoredObject
	Err      error
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	b.WriteString("persistence failed at ")
	b.WriteString(string(e.Stage))
	if len(e.Failed) > 0 {
		roles := make([]string, len(e.Failed))
		for i, r := range e.Failed {
			roles[i] = string(r)
		}
		fmt.Fprintf(&b, " (artifacts: %s)", strings.Join(roles, ", "))
	}
	if len(e.Orphaned) > 0 {
		fmt.Fprintf(&b, " (%d orphaned)", len(e.Orphaned))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PersistenceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPersistence}
	}
	return []error{ErrPersistence, e.Err}
}
