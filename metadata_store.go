package layfs

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/btree"
)

// MetadataRelocator is implemented by stores that key records by path
// instead of keeping them with the entry. The mount reports renames and
// removals of overlay entries to such stores.
type MetadataRelocator interface {
	// Move re-keys the record of oldPath, and of everything below it, to newPath.
	Move(oldPath, newPath string) error
	// Drop forgets the record of path and of everything below it.
	Drop(path string) error
}

// memoryStore keeps records in an ordered map so that a directory and its
// descendants fall in the contiguous range of keys prefixed by its path.
type memoryStore struct {
	mu      sync.Mutex
	records *btree.Map[string, Metadata]
}

// NewMemoryStore returns a MetadataStore that lives in process memory. It
// suits layers reached through WithLayerFs, where extended attributes of the
// host paths are not available, and tests.
func NewMemoryStore() MetadataStore {
	return &memoryStore{records: btree.NewMap[string, Metadata](0)}
}

var _ MetadataRelocator = (*memoryStore)(nil)

func (s *memoryStore) Load(path string) (Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, ok := s.records.Get(path)
	return md, ok, nil
}

func (s *memoryStore) Save(path string, md Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records.Set(path, md)
	return nil
}

func (s *memoryStore) Move(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := s.subtree(oldPath)
	for _, key := range s.subtree(newPath) {
		s.records.Delete(key)
	}
	for _, key := range moved {
		md, _ := s.records.Delete(key)
		s.records.Set(newPath+strings.TrimPrefix(key, oldPath), md)
	}
	return nil
}

func (s *memoryStore) Drop(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.subtree(path) {
		s.records.Delete(key)
	}
	return nil
}

// subtree returns path and the keys below it. Must hold mu.
func (s *memoryStore) subtree(path string) []string {
	var keys []string
	prefix := path + string(filepath.Separator)
	s.records.Ascend(path, func(key string, _ Metadata) bool {
		if !strings.HasPrefix(key, path) {
			return false
		}
		if key == path || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// moveMetadata follows a rename in stores that key records by path
func (m *Mount) moveMetadata(oldPath, newPath string) {
	r, ok := m.meta.(MetadataRelocator)
	if !ok {
		return
	}
	if err := r.Move(oldPath, newPath); err != nil {
		m.log.WithField("physical", oldPath).WithError(err).Warn("Failed to move metadata")
	}
}

// dropMetadata follows a removal in stores that key records by path
func (m *Mount) dropMetadata(path string) {
	r, ok := m.meta.(MetadataRelocator)
	if !ok {
		return
	}
	if err := r.Drop(path); err != nil {
		m.log.WithField("physical", path).WithError(err).Warn("Failed to drop metadata")
	}
}
