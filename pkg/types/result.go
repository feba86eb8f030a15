package types

import (
	"path/filepath"
	"strings"
)

// ExtractResult is what a per-file extractor reports for one file
type ExtractResult struct {
	FilesProcessed   int
	FunctionsIndexed int
	Errors           []FileError
}

// AddError records a per-file failure on the result
func (r *ExtractResult) AddError(path, message string) {
	r.Errors = append(r.Errors, FileError{Path: path, Error: message})
}

// FileError is one entry of a run's aggregate error list
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Sanitize makes the path relative to root and collapses the message to a
// single trimmed line so errors are safe to log and return to clients
func (fe FileError) Sanitize(root string) FileError {
	path := fe.Path
	if root != "" && filepath.IsAbs(path) {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = filepath.ToSlash(rel)
		}
	}

	msg := strings.Join(strings.Fields(fe.Error), " ")
	if msg == "" {
		msg = "unknown error"
	}

	return FileError{Path: path, Error: msg}
}

// Progress is emitted after every completed file
type Progress struct {
	Total       int
	Completed   int
	CurrentFile string
}

// ProgressFunc receives progress events; it must not block
type ProgressFunc func(Progress)
