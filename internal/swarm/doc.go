// Package swarm runs a bounded pool of workers over a shared queue of files.
//
// Each worker is a sequential loop:
//
//	Idle -> Claim -> Lock-Wait -> Processing -> Checkpoint-Update -> Release -> Idle
//
// A worker claims the next item, takes the file's lock (requeueing the item
// and backing off when another worker or process holds it), hands the path
// to its own Extractor, stamps the shared checkpoint on success and asks the
// Writer for a durable save. The lock is always released. Workers stop when
// the queue is empty, when the context is canceled, or when an extractor
// reports types.ErrAbortRun.
//
// Stateful caches shared by the extractors are registered as an Evicter and
// flushed every EvictEvery files per worker.
package swarm
