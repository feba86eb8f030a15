package graph

import (
	"fmt"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

// ModuleID returns a stable identifier for the module at path. The id is
// derived from the slash-separated path relative to root, so it survives
// moving the checkout.
func ModuleID(root, path string) string {
	key := filepath.Clean(path)
	if root != "" {
		if rel, err := filepath.Rel(root, key); err == nil {
			key = rel
		}
	}
	return fmt.Sprintf("m%016x", xxh3.HashString(filepath.ToSlash(key)))
}

// FunctionID returns a stable identifier for the named function declared in
// the given module. Methods should be passed qualified ("Type.Method").
func FunctionID(moduleID, name string) string {
	return fmt.Sprintf("f%016x", xxh3.HashString(moduleID+"\x00"+name))
}
