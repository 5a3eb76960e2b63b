// Package run defines the durable record types produced by the execution
// engine: the Run, its Attempts, validation outcomes, and file metadata.
//
// A Run is assembled in memory during one engine invocation, mutated only by
// appending Attempts, and written out exactly once when the retry loop
// terminates. After that it is a read-only historical record.
package run

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal outcome of a Run or a single Attempt.
type Status string

const (
	StatusOK          Status = "ok"
	StatusError       Status = "error"
	StatusTimeout     Status = "timeout"
	StatusBlocked     Status = "blocked"
	StatusSyntaxError Status = "syntax_error"
	StatusDepsMissing Status = "deps_missing"
)

// Truncation caps applied before records are persisted.
const (
	MaxOutputBytes  = 10 * 1024
	MaxPreviewBytes = 1024
)

// FileMeta describes one file created or modified by guest code.
type FileMeta struct {
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	MimeType   string    `json:"mime_type,omitempty"`
}

// ErrorDetail is the parsed failure detail extracted from guest stderr or
// from the parser.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// AutoCorrect records that a fix was applied to the source after this
// attempt failed, and which strategy produced it.
type AutoCorrect struct {
	Applied bool   `json:"applied"`
	Method  string `json:"method,omitempty"`
}

// ValidationResult is the outcome of the static checks for one source
// revision. Imports holds the sorted top-level import roots; Reasons holds
// one human-readable line per violation.
type ValidationResult struct {
	OK      bool     `json:"ok"`
	Status  Status   `json:"status"`
	Reasons []string `json:"reasons"`
	Imports []string `json:"imports"`
}

// Attempt is one execution cycle within a Run. Attempt numbers are
// contiguous starting at 1; at most one attempt has StatusOK and it is
// always the last.
type Attempt struct {
	Attempt              int          `json:"attempt"`
	Status               Status       `json:"status"`
	CodeSHA256           string       `json:"code_sha256"`
	CodePreview          string       `json:"code_preview"`
	Stdout               string       `json:"stdout"`
	Stderr               string       `json:"stderr"`
	Error                *ErrorDetail `json:"error,omitempty"`
	ExecutionTimeSeconds float64      `json:"execution_time_seconds"`
	AutoCorrect          *AutoCorrect `json:"autocorrect,omitempty"`
}

// Run is one top-level invocation of the engine.
type Run struct {
	RunID                string            `json:"run_id"`
	SessionID            string            `json:"session_id"`
	StartedAt            time.Time         `json:"started_at"`
	Status               Status            `json:"status"`
	Stdout               string            `json:"stdout"`
	Stderr               string            `json:"stderr"`
	ExecutionTimeSeconds float64           `json:"execution_time_seconds"`
	CreatedFiles         []FileMeta        `json:"created_files"`
	Attempts             []Attempt         `json:"attempts"`
	Validation           *ValidationResult `json:"validation,omitempty"`
}

// Summary is the single-line index entry persisted per Run.
type Summary struct {
	RunID                string    `json:"run_id"`
	StartedAt            time.Time `json:"started_at"`
	Status               Status    `json:"status"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
	CreatedFiles         []string  `json:"created_files,omitempty"`
}

// Summary derives the index entry for the Run.
func (r *Run) Summary() Summary {
	s := Summary{
		RunID:                r.RunID,
		StartedAt:            r.StartedAt,
		Status:               r.Status,
		ExecutionTimeSeconds: r.ExecutionTimeSeconds,
	}
	for _, f := range r.CreatedFiles {
		s.CreatedFiles = append(s.CreatedFiles, f.Path)
	}
	return s
}

// NewID returns a fresh run identifier. UUIDv7 keeps identifiers
// time-ordered, which makes run directories sort chronologically.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SHA256Hex returns the hex content hash of the given source.
func SHA256Hex(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Truncate caps s at max bytes, appending a marker when anything was cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}

// Preview returns the truncated code preview stored on each Attempt.
func Preview(source string) string {
	return Truncate(source, MaxPreviewBytes)
}
