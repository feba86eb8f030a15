// Package checkpoint persists which files have been indexed, with which
// content hash and by which indexer version, so that an interrupted or
// repeated run only reprocesses what changed.
//
// # Durability
//
// A checkpoint is written through after every processed file. Save stages
// the document in a sibling "<path>.tmp.<pid>" file and renames it over the
// destination, so a kill at any point leaves either the previous document or
// the new one on disk, never a torn write.
//
// # Invalidation
//
// LoadOrInit never fails. Anything it cannot fully trust yields an empty
// checkpoint, which makes every discovered file pending again:
//
//	cp, status := checkpoint.LoadOrInit(path, cfg, indexer.Version)
//	if status != checkpoint.StatusLoaded {
//	    slog.Info("checkpoint.reset", "reason", status)
//	}
//
// The schema version of the stored document selects how it is decoded.
// Documents from the legacy 1.x schema (no content hashes) and from unknown
// schema majors are discarded, as are documents written by a different
// indexer version or under a different ConfigFingerprint.
package checkpoint
