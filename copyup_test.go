package layfs

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestCopyUpOnWriteOpen tests that a write open of a base file copies
// content, mode and times into the overlay and leaves the base untouched
func TestCopyUpOnWriteOpen(t *testing.T) {
	tm := newTestMount(t)
	tm.writeBase(t, "/etc/app.conf", "key = base")
	mtime := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chmod(tm.basePath("/etc/app.conf"), 0o640))
	require.NoError(t, os.Chtimes(tm.basePath("/etc/app.conf"), mtime, mtime))

	before := tm.open(t, OpenRequest{Path: "/etc/app.conf", Access: AccessReadAttributes, Disposition: Open})
	baseInfo, err := tm.GetEntryInfo(before)
	require.NoError(t, err)

	h := tm.openWrite(t, "/etc/app.conf")
	fc := h.Context().(*FileContext)
	assert.True(t, fc.Writable())
	assert.Equal(t, tm.overlayPath("/etc/app.conf"), fc.PhysicalPath())

	// compare access times before anything reads the overlay copy
	overlayInfo, err := tm.GetEntryInfo(h)
	require.NoError(t, err)
	if baseStat, err := os.Stat(tm.basePath("/etc/app.conf")); assert.NoError(t, err) {
		if atime, ok := accessTime(baseStat); ok {
			assert.True(t, atime.Equal(overlayInfo.Accessed), "accessed %v != %v", atime, overlayInfo.Accessed)
		}
	}

	assert.Equal(t, "key = base", readPhysical(t, tm.overlayPath("/etc/app.conf")))
	info, err := os.Stat(tm.overlayPath("/etc/app.conf"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.True(t, mtime.Equal(info.ModTime()), "mtime %v", info.ModTime())

	assert.True(t, baseInfo.Created.Equal(overlayInfo.Created), "created %v != %v", baseInfo.Created, overlayInfo.Created)
	assert.True(t, baseInfo.Written.Equal(overlayInfo.Written))

	_, err = tm.Write(h, []byte("key = over"), 0)
	require.NoError(t, err)
	assert.Equal(t, "key = base", readPhysical(t, tm.basePath("/etc/app.conf")))
	assert.Equal(t, "key = over", tm.readVirtual(t, "/etc/app.conf"))

	assert.True(t, tm.hasLog("Copied up"))
}

// TestCopyUpOnce tests that an existing overlay copy is never overwritten by
// a later copy-up
func TestCopyUpOnce(t *testing.T) {
	tm := newTestMount(t)
	tm.writeBase(t, "/data.txt", "original")

	h, err := tm.CreateOrOpen(OpenRequest{Path: "/data.txt", Access: AccessWriteData, Disposition: Open})
	require.NoError(t, err)
	_, err = tm.Write(h, []byte("MODIFIED"), 0)
	require.NoError(t, err)
	require.NoError(t, tm.Close(h))

	h = tm.openWrite(t, "/data.txt")
	assert.Equal(t, "MODIFIED", tm.readAll(t, h))
	assert.Equal(t, "original", readPhysical(t, tm.basePath("/data.txt")))
}

// TestConcurrentCopyUp tests that racing write opens share one copy
func TestConcurrentCopyUp(t *testing.T) {
	tm := newTestMount(t)
	content := strings.Repeat("0123456789", 10000)
	tm.writeBase(t, "/dir/big.bin", content)

	var g errgroup.Group
	handles := make([]*Handle, 16)
	for i := range handles {
		i := i
		g.Go(func() error {
			h, err := tm.CreateOrOpen(OpenRequest{Path: "/dir/big.bin", Access: AccessWriteData, Disposition: Open})
			handles[i] = h
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, h := range handles {
		assert.True(t, h.Context().Writable())
		require.NoError(t, tm.Close(h))
	}

	assert.Equal(t, content, readPhysical(t, tm.overlayPath("/dir/big.bin")))
	assert.Equal(t, []string{"big.bin"}, overlayNames(t, tm.overlayPath("/dir")))
}

// TestCopyUpBufferSize tests copy-up through a buffer smaller than the file
func TestCopyUpBufferSize(t *testing.T) {
	tm := newTestMount(t, WithCopyBufferSize(16))
	content := strings.Repeat("abc", 100)
	tm.writeBase(t, "/small-buffer.txt", content)

	h := tm.openWrite(t, "/small-buffer.txt")
	assert.Equal(t, content, tm.readAll(t, h))
}

// TestCopyUpKeepsAttributes tests that stored attributes follow the copy
func TestCopyUpKeepsAttributes(t *testing.T) {
	store := NewMemoryStore()
	tm := newTestMount(t, WithMetadataStore(store))
	tm.writeBase(t, "/hidden.txt", "h")
	require.NoError(t, store.Save(tm.basePath("/hidden.txt"), Metadata{Attributes: AttrHidden | AttrSystem}))

	h := tm.openWrite(t, "/hidden.txt")
	e, err := tm.GetEntryInfo(h)
	require.NoError(t, err)
	assert.True(t, e.Attributes.Has(AttrHidden|AttrSystem))

	md, ok, err := store.Load(tm.overlayPath("/hidden.txt"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, AttrHidden|AttrSystem, md.Attributes)
	assert.False(t, md.Created.IsZero())
}

// failingReadFs fails every read of files opened through it
type failingReadFs struct {
	afero.Fs
}

func (f failingReadFs) Open(name string) (afero.File, error) {
	file, err := f.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return failingReadFile{file}, nil
}

type failingReadFile struct {
	afero.File
}

var errInjected = errors.New("injected read failure")

func (failingReadFile) Read([]byte) (int, error) {
	return 0, errInjected
}

// TestCopyUpFailureLeavesNothing tests that a failed copy-up exposes no
// overlay file and fails the open
func TestCopyUpFailureLeavesNothing(t *testing.T) {
	tm := newTestMount(t, WithLayerFs(failingReadFs{afero.NewOsFs()}, afero.NewOsFs()))
	tm.writeBase(t, "/broken.txt", "unreadable")

	_, err := tm.CreateOrOpen(OpenRequest{Path: "/broken.txt", Access: AccessWriteData, Disposition: Open})
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Empty(t, overlayNames(t, tm.overlayDir))

	// reads still go to the base
	res, err := tm.Resolver().Resolve("/broken.txt")
	require.NoError(t, err)
	assert.Equal(t, FileInBase, res.Presence())
}

func TestIsCopyUpTemp(t *testing.T) {
	assert.True(t, isCopyUpTemp(copyUpPrefix+"12345"))
	assert.False(t, isCopyUpTemp("layfs-copyup-12345"))
	assert.False(t, isCopyUpTemp("file.txt"))
}
