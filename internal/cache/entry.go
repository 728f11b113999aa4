package cache

import (
	"maps"
	"sync"
)

// Fingerprint is the staleness record of one source file
type Fingerprint struct {
	// ModTime is the modification time in Unix nanoseconds
	ModTime int64 `json:"mtime"`

	// Hash is the hex digest of the file content
	Hash string `json:"hash"`
}

// Mapping holds fingerprints keyed by absolute source path. It is safe for
// concurrent use; writers always touch their own key.
type Mapping struct {
	mu      sync.Mutex
	entries map[string]Fingerprint
}

// NewMapping creates an empty mapping
func NewMapping() *Mapping {
	return &Mapping{entries: make(map[string]Fingerprint)}
}

func newMappingFrom(entries map[string]Fingerprint) *Mapping {
	if entries == nil {
		entries = make(map[string]Fingerprint)
	}

	return &Mapping{entries: entries}
}

// Get returns the fingerprint stored for path
func (m *Mapping) Get(path string) (Fingerprint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp, ok := m.entries[path]
	return fp, ok
}

// Set stores fp for path, replacing any prior entry
func (m *Mapping) Set(path string, fp Fingerprint) {
	m.mu.Lock()
	m.entries[path] = fp
	m.mu.Unlock()
}

// Delete removes the entry for path
func (m *Mapping) Delete(path string) {
	m.mu.Lock()
	delete(m.entries, path)
	m.mu.Unlock()
}

// Len returns the number of entries
func (m *Mapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Snapshot returns a copy of all entries
func (m *Mapping) Snapshot() map[string]Fingerprint {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.entries)
}
