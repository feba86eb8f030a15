// Package types provides shared type definitions for codeknow.
//
// The types here cross package boundaries: what parsers produce
// (ParseResult, Symbol, Call), what a per-file extractor reports back to the
// worker pool (ExtractResult, FileError) and the progress events the
// indexing engine emits.
//
// # Parse Results
//
// Parsers never fail hard on syntax errors. A partial result is returned with
// the errors recorded on it:
//
//	result, err := p.ParseFile(path)
//	if err != nil {
//	    return err // unreadable file
//	}
//	if result.HasErrors() {
//	    // partial symbols and imports are still usable
//	}
//
// # Extraction Results
//
// ExtractResult carries counts plus per-file errors. Per-file errors are
// values, not Go errors: the worker pool records them and keeps going.
//
//	res := &types.ExtractResult{FilesProcessed: 1, FunctionsIndexed: 12}
//	res.AddError(path, "embedding provider unavailable")
package types
