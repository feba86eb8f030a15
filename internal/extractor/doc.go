// Package extractor is the default per-file extractor run by the worker
// pool.
//
// For each file it reads the bytes, parses them, embeds every function body
// when an embedder is configured, replaces the file's rows in the knowledge
// store inside one transaction and finally records the file's module and
// call edges in the shared graph accumulator. Graph facts are recorded only
// after the store commit, so a failed file leaves no trace in the graph.
//
// # Timeouts
//
// Options.Timeout bounds one attempt at a file. What happens when it
// expires is set by Options.Policy:
//
//	PolicyRetry  try again up to MaxRetries more times, then record a per-file error
//	PolicySkip   record a per-file error and move on
//	PolicyFail   return an error wrapping types.ErrAbortRun, stopping the run
//
// The deadline is observed between stages and by the embedder and store
// calls; a single parse is never interrupted.
package extractor
