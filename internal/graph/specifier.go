package graph

import (
	"path"
	"path/filepath"
	"strings"
)

// Extensions are the recognized module source extensions in lookup priority
// order.
var Extensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// IsRecognized reports whether ext (with the leading dot) is a module extension
func IsRecognized(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// IsRelative reports whether spec names a file inside the project rather
// than a bare package reference
func IsRelative(spec string) bool {
	return strings.HasPrefix(spec, "./") ||
		strings.HasPrefix(spec, "../") ||
		spec == "." || spec == ".." ||
		path.IsAbs(spec) || filepath.IsAbs(spec)
}

// Candidates lists, in priority order, the module paths an import specifier
// written in importer may refer to. Bare specifiers yield none.
func Candidates(importer, spec string) []string {
	if !IsRelative(spec) {
		return nil
	}

	base := filepath.FromSlash(spec)
	if !filepath.IsAbs(base) {
		base = filepath.Join(filepath.Dir(importer), base)
	}
	base = filepath.Clean(base)

	candidates := []string{base}
	ext := filepath.Ext(base)
	switch {
	case IsRecognized(ext):
		stripped := strings.TrimSuffix(base, ext)
		candidates = append(candidates, stripped)
		// ESM sources import "./b.js" for a module authored as b.ts.
		for _, e := range Extensions {
			if e != ext {
				candidates = append(candidates, stripped+e)
			}
		}
	default:
		// "./user.service" has no recognized extension either.
		for _, e := range Extensions {
			candidates = append(candidates, base+e)
		}
		for _, e := range Extensions {
			candidates = append(candidates, filepath.Join(base, "index"+e))
		}
	}
	return candidates
}
