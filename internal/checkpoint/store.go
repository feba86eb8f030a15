package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// ErrSaveFailed wraps every error returned by Save
var ErrSaveFailed = errors.New("checkpoint save failed")

// LoadStatus explains what LoadOrInit did with the stored document
type LoadStatus string

const (
	StatusLoaded         LoadStatus = "loaded"
	StatusMissing        LoadStatus = "missing"
	StatusCorrupt        LoadStatus = "corrupt"
	StatusSchemaUnknown  LoadStatus = "schema_unknown"
	StatusSchemaLegacy   LoadStatus = "schema_legacy"
	StatusIndexerChanged LoadStatus = "indexer_changed"
	StatusConfigChanged  LoadStatus = "config_changed"
)

const (
	filePerm = 0o600
	dirPerm  = 0o750
)

// decoder turns raw bytes of a recognized schema into a current document
type decoder func(data []byte) (*document, error)

// schemas maps schema major versions to their decoders. A nil decoder marks
// a known but untrusted (legacy) schema.
var schemas = map[uint64]decoder{
	1: nil,
	2: decodeV2,
}

// LoadOrInit reads the checkpoint at path. It never fails: any document it
// cannot trust, or one recorded under a different indexer version or
// configuration, is replaced by an empty checkpoint stamped with current.
func LoadOrInit(path string, current ConfigFingerprint, indexerVersion string) (*Checkpoint, LoadStatus) {
	doc, status := load(path)
	if status != StatusLoaded {
		return Empty(current, indexerVersion), status
	}

	if doc.IndexerVersion != indexerVersion {
		return Empty(current, indexerVersion), StatusIndexerChanged
	}
	if doc.ConfigFingerprint != current {
		return Empty(current, indexerVersion), StatusConfigChanged
	}

	return fromDocument(doc), StatusLoaded
}

func load(path string) (*document, LoadStatus) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, StatusMissing
	}
	if err != nil {
		return nil, StatusCorrupt
	}

	var header struct {
		SchemaVersion string `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, StatusCorrupt
	}

	// Documents predating schema versioning had no content hashes.
	if header.SchemaVersion == "" {
		return nil, StatusSchemaLegacy
	}

	v, err := semver.NewVersion(header.SchemaVersion)
	if err != nil {
		return nil, StatusSchemaUnknown
	}

	decode, known := schemas[v.Major()]
	if !known {
		return nil, StatusSchemaUnknown
	}
	if decode == nil {
		return nil, StatusSchemaLegacy
	}

	doc, err := decode(data)
	if err != nil {
		return nil, StatusCorrupt
	}
	for _, entry := range doc.Files {
		if entry.ContentHash == "" {
			return nil, StatusSchemaLegacy
		}
	}

	return doc, StatusLoaded
}

func decodeV2(data []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	doc.SchemaVersion = SchemaVersion
	return &doc, nil
}

// Save writes the checkpoint crash-atomically: the document is staged in
// "<path>.tmp.<pid>", synced, and renamed over path.
func Save(path string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrSaveFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("%w: create dir: %w", ErrSaveFailed, err)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := writeSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write: %w", ErrSaveFailed, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %w", ErrSaveFailed, err)
	}

	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
