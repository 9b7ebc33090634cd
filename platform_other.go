//go:build !linux

package layfs

import (
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"
)

type nopStore struct{}

// NewXattrStore returns a store that persists nothing on this platform.
func NewXattrStore() MetadataStore {
	return nopStore{}
}

func (nopStore) Load(string) (Metadata, bool, error) { return Metadata{}, false, nil }
func (nopStore) Save(string, Metadata) error         { return nil }

func accessTime(fs.FileInfo) (time.Time, bool) { return time.Time{}, false }

func birthTime(string) (time.Time, bool) { return time.Time{}, false }

func ownerOf(fs.FileInfo) (uint32, uint32, bool) { return 0, 0, false }

func lockRange(afero.File, int64, int64, bool, bool) error { return ErrUnimplemented }

func volumeSpace(string) (FreeSpace, error) { return FreeSpace{}, ErrUnimplemented }

func publish(tmp, final string) error {
	if err := os.Link(tmp, final); err != nil {
		return err
	}
	return os.Remove(tmp)
}
