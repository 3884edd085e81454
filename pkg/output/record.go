// Package output writes namespace listings as JSONL.
//
// Every line is a self-contained envelope carrying one typed payload:
// an entry, an error or a final summary.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types, following bucketfs.<type>.v<version>.
const (
	TypeEntry   = "bucketfs.entry.v1"
	TypeError   = "bucketfs.error.v1"
	TypeSummary = "bucketfs.summary.v1"
)

// Record is the envelope of every JSONL line.
type Record struct {
	// Type selects how Data is interpreted.
	Type string `json:"type"`

	TS time.Time `json:"ts"`

	// SessionID correlates the lines of one command invocation.
	SessionID string `json:"session_id"`

	Bucket string `json:"bucket"`

	Data json.RawMessage `json:"data"`
}

// EntryRecord describes one namespace node.
type EntryRecord struct {
	// Path is the slash-rooted path, "/" for the bucket root.
	Path string `json:"path"`

	Name string `json:"name"`

	// Kind is "file" or "directory".
	Kind string `json:"kind"`

	// Size is zero for directories.
	Size int64 `json:"size"`

	// LastModified is omitted for directories without a marker.
	LastModified *time.Time `json:"last_modified,omitempty"`

	// Depth is the distance from the listed directory, starting at 1.
	Depth int `json:"depth,omitempty"`
}

// ErrorRecord reports a failure that did not abort the listing.
type ErrorRecord struct {
	// Code is the machine-readable taxonomy code, e.g. NOT_FOUND.
	Code string `json:"code"`

	Message string `json:"message"`

	Path string `json:"path,omitempty"`

	// StoreCode is the store's native error code, when one was reported.
	StoreCode string `json:"store_code,omitempty"`
}

// SummaryRecord closes a listing with aggregate counts.
type SummaryRecord struct {
	Files       int64 `json:"files"`
	Directories int64 `json:"directories"`
	BytesTotal  int64 `json:"bytes_total"`
	Errors      int64 `json:"errors"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps a marshal or write failure.
type WriteError struct {
	Op  string // "marshal" or "write"
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
