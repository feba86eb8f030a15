//go:build !sqlite_cgo

package storage

// This file is compiled by default. It uses the pure Go SQLite port, so no
// C compiler is required and cross-compilation works out of the box.
//
// Build command:
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
