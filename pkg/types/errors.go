package types

import "errors"

// Domain errors shared between the extractor and the worker pool
var (
	// ErrAbortRun marks an extractor failure that must stop the whole run
	// rather than being recorded as a per-file error
	ErrAbortRun = errors.New("indexing run aborted")

	// ErrUnsupportedLanguage is returned for files no parser can handle
	ErrUnsupportedLanguage = errors.New("unsupported language")
)
