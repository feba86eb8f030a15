package checkpoint

import (
	"encoding/json"
	"maps"
	"sort"
	"sync"
	"time"
)

// SchemaVersion is the version stamped on every document this package writes
const SchemaVersion = "2.0.0"

// ConfigFingerprint records every configuration knob that changes what the
// extractor produces. Two fingerprints are equal iff all fields are equal.
type ConfigFingerprint struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Mode          string `json:"mode"`
	IncludeTests  bool   `json:"includeTests"`
	TimeoutMs     int64  `json:"timeoutMs"`
	TimeoutPolicy string `json:"timeoutPolicy"`
	MaxRetries    int    `json:"maxRetries"`
}

// FileEntry is the record kept for one successfully processed file
type FileEntry struct {
	ContentHash    string    `json:"contentHash"`
	ProcessedAt    time.Time `json:"processedAt"`
	IndexerVersion string    `json:"indexerVersion"`
}

// Checkpoint is the in-memory view of the persisted progress record. It is
// safe for concurrent use; workers stamp it while the writer serializes it.
type Checkpoint struct {
	mu sync.RWMutex

	schemaVersion  string
	indexerVersion string
	config         ConfigFingerprint
	createdAt      time.Time
	updatedAt      time.Time
	files          map[string]FileEntry
}

// document is the on-disk representation
type document struct {
	SchemaVersion     string               `json:"schemaVersion"`
	IndexerVersion    string               `json:"indexerVersion"`
	ConfigFingerprint ConfigFingerprint    `json:"configFingerprint"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
	Files             map[string]FileEntry `json:"files"`
}

// Empty returns a fresh checkpoint stamped with the current time
func Empty(config ConfigFingerprint, indexerVersion string) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		schemaVersion:  SchemaVersion,
		indexerVersion: indexerVersion,
		config:         config,
		createdAt:      now,
		updatedAt:      now,
		files:          make(map[string]FileEntry),
	}
}

func fromDocument(doc *document) *Checkpoint {
	files := doc.Files
	if files == nil {
		files = make(map[string]FileEntry)
	}
	return &Checkpoint{
		schemaVersion:  doc.SchemaVersion,
		indexerVersion: doc.IndexerVersion,
		config:         doc.ConfigFingerprint,
		createdAt:      doc.CreatedAt,
		updatedAt:      doc.UpdatedAt,
		files:          files,
	}
}

// Entry returns the record for path, if any
func (c *Checkpoint) Entry(path string) (FileEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.files[path]
	return e, ok
}

// Record stamps path as processed with the given hash and indexer version
func (c *Checkpoint) Record(path, contentHash, indexerVersion string, now time.Time) {
	now = now.UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = FileEntry{
		ContentHash:    contentHash,
		ProcessedAt:    now,
		IndexerVersion: indexerVersion,
	}
	c.updatedAt = now
}

// Prune drops entries for paths not in keep and returns how many were removed
func (c *Checkpoint) Prune(keep map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for path := range c.files {
		if _, ok := keep[path]; !ok {
			delete(c.files, path)
			removed++
		}
	}
	if removed > 0 {
		c.updatedAt = time.Now().UTC()
	}
	return removed
}

// Len returns the number of recorded files
func (c *Checkpoint) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// Paths returns the recorded paths in sorted order
func (c *Checkpoint) Paths() []string {
	c.mu.RLock()
	paths := make([]string, 0, len(c.files))
	for p := range c.files {
		paths = append(paths, p)
	}
	c.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// IndexerVersion returns the indexer version the checkpoint was created by
func (c *Checkpoint) IndexerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexerVersion
}

// Config returns the configuration fingerprint the checkpoint was created under
func (c *Checkpoint) Config() ConfigFingerprint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdatedAt returns the time of the last recorded mutation
func (c *Checkpoint) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// MarshalJSON serializes a consistent snapshot of the checkpoint
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	doc := document{
		SchemaVersion:     c.schemaVersion,
		IndexerVersion:    c.indexerVersion,
		ConfigFingerprint: c.config,
		CreatedAt:         c.createdAt,
		UpdatedAt:         c.updatedAt,
		Files:             maps.Clone(c.files),
	}
	c.mu.RUnlock()
	return json.Marshal(doc)
}
