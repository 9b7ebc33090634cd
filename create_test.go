package layfs

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateNewCollision tests that CreateNew fails when either layer has
// the name
func TestCreateNewCollision(t *testing.T) {
	tm := newTestMount(t)
	tm.writeBase(t, "/base.txt", "b")
	tm.writeOverlay(t, "/overlay.txt", "o")
	require.NoError(t, os.Mkdir(tm.basePath("/dir"), 0o755))

	for _, name := range []string{"/base.txt", "/overlay.txt"} {
		_, err := tm.CreateOrOpen(OpenRequest{Path: name, Access: AccessWriteData, Disposition: CreateNew})
		require.Error(t, err, name)
		assert.Equal(t, StatusFileExists, Classify(err), name)
		assert.ErrorIs(t, err, ErrAlreadyExists, name)
		assert.ErrorIs(t, err, os.ErrExist, name)
	}

	_, err := tm.CreateOrOpen(OpenRequest{Path: "/dir", Disposition: CreateNew, Directory: true})
	assert.Equal(t, StatusFileExists, Classify(err))

	_, err = tm.CreateOrOpen(OpenRequest{Path: "/base.txt", Disposition: CreateNew, Directory: true})
	assert.Equal(t, StatusAlreadyExists, Classify(err))
	assert.NotErrorIs(t, err, ErrFileExists)

	// nothing leaked into the overlay
	assert.Equal(t, []string{"overlay.txt"}, overlayNames(t, tm.overlayDir))
}

// TestOpenBaseReadOnly tests that read opens of base files never touch the
// overlay
func TestOpenBaseReadOnly(t *testing.T) {
	tm := newTestMount(t)
	tm.writeBase(t, "/a/b/c.txt", "base content")

	h := tm.openRead(t, "/a/b/c.txt")
	fc, ok := h.Context().(*FileContext)
	require.True(t, ok)
	assert.False(t, fc.Writable())
	assert.Equal(t, tm.basePath("/a/b/c.txt"), fc.PhysicalPath())
	assert.Equal(t, "base content", tm.readAll(t, h))

	h = tm.open(t, OpenRequest{Path: "/a/b/c.txt", Access: AccessReadData, Disposition: OpenOrCreate})
	assert.False(t, h.Context().Writable())

	h = tm.open(t, OpenRequest{Path: "/a/b", Access: AccessReadData, Disposition: Open, Directory: true})
	assert.IsType(t, &DirectoryContext{}, h.Context())

	assert.Empty(t, overlayNames(t, tm.overlayDir))
}

// TestOpenAttributesOnly tests the metadata-only fast path
func TestOpenAttributesOnly(t *testing.T) {
	tm := newTestMount(t)
	tm.writeBase(t, "/info.txt", "12345")

	h := tm.open(t, OpenRequest{Path: "/info.txt", Access: AccessReadAttributes, Disposition: Open})
	ac, ok := h.Context().(*AttributesContext)
	require.True(t, ok)
	assert.False(t, ac.IsDir())
	assert.False(t, ac.Writable())

	e, err := tm.GetEntryInfo(h)
	require.NoError(t, err)
	assert.Equal(t, "info.txt", e.Name)
	assert.Equal(t, int64(5), e.Size)

	_, err = tm.Read(h, make([]byte, 5), 0)
	assert.Equal(t, StatusAccessDenied, Classify(err))
	assert.Equal(t, StatusUnimplemented, Classify(tm.SetAttributes(h, AttrHidden)))

	// a missing entry takes the regular path
	_, err = tm.CreateOrOpen(OpenRequest{Path: "/nope", Access: AccessReadAttributes, Disposition: Open})
	assert.Equal(t, StatusNotFound, Classify(err))

	assert.Empty(t, overlayNames(t, tm.overlayDir))
}

// TestCreateSetsArchive tests that new files carry the archive attribute
// plus the requested ones
func TestCreateSetsArchive(t *testing.T) {
	tm := newTestMount(t)

	for _, d := range []Disposition{Create, CreateNew} {
		t.Run(d.String(), func(t *testing.T) {
			name := "/" + d.String() + ".txt"
			h := tm.open(t, OpenRequest{Path: name, Access: AccessWriteData, Disposition: d, Attributes: AttrHidden})
			assert.True(t, h.Context().Writable())

			e, err := tm.GetEntryInfo(h)
			require.NoError(t, err)
			assert.True(t, e.Attributes.Has(AttrArchive|AttrHidden), "attributes %#x", e.Attributes)
			assert.FileExists(t, tm.overlayPath(name))
		})
	}

	h := tm.open(t, OpenRequest{Path: "/plain.txt", Access: AccessWriteData, Disposition: OpenOrCreate})
	e, err := tm.GetEntryInfo(h)
	require.NoError(t, err)
	assert.False(t, e.Attributes.Has(AttrArchive))
	assert.True(t, e.Attributes.Has(AttrNormal))
}

func TestOpenDispositions(t *testing.T) {
	tm := newTestMount(t)
	tm.writeBase(t, "/base.txt", "base")

	t.Run("OpenMissing", func(t *testing.T) {
		for _, d := range []Disposition{Open, Truncate} {
			_, err := tm.CreateOrOpen(OpenRequest{Path: "/missing", Access: AccessWriteData, Disposition: d})
			assert.Equal(t, StatusNotFound, Classify(err), d.String())
			assert.ErrorIs(t, err, os.ErrNotExist)
		}
	})

	t.Run("MissingParent", func(t *testing.T) {
		_, err := tm.CreateOrOpen(OpenRequest{Path: "/no/such/file", Access: AccessWriteData, Disposition: CreateNew})
		assert.Equal(t, StatusPathNotFound, Classify(err))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoDirExists(t, tm.overlayPath("/no"))
	})

	t.Run("ParentIsFile", func(t *testing.T) {
		_, err := tm.CreateOrOpen(OpenRequest{Path: "/base.txt/child", Access: AccessWriteData, Disposition: Create})
		assert.Equal(t, StatusPathNotFound, Classify(err))
	})

	t.Run("OpenOrCreateCreates", func(t *testing.T) {
		h := tm.open(t, OpenRequest{Path: "/fresh.txt", Access: AccessReadData, Disposition: OpenOrCreate})
		assert.True(t, h.Context().Writable())
		_, err := tm.Write(h, []byte("x"), 0)
		require.NoError(t, err)
		assert.Equal(t, "x", readPhysical(t, tm.overlayPath("/fresh.txt")))
	})

	t.Run("TruncateCopiesUp", func(t *testing.T) {
		h := tm.open(t, OpenRequest{Path: "/base.txt", Access: AccessReadData, Disposition: Truncate})
		assert.True(t, h.Context().Writable())
		assert.Empty(t, tm.readAll(t, h))
		assert.Equal(t, "base", readPhysical(t, tm.basePath("/base.txt")))
		assert.Empty(t, readPhysical(t, tm.overlayPath("/base.txt")))
	})

	t.Run("InvalidDisposition", func(t *testing.T) {
		_, err := tm.CreateOrOpen(OpenRequest{Path: "/x", Disposition: Disposition(42)})
		assert.Equal(t, StatusUnsuccessful, Classify(err))
		assert.True(t, errors.Is(err, errInvalidDisposition))
	})
}

func TestOpenDirectory(t *testing.T) {
	tm := newTestMount(t)
	tm.writeBase(t, "/dir/file.txt", "b")
	tm.writeOverlay(t, "/odir/file.txt", "o")

	t.Run("BaseOnly", func(t *testing.T) {
		h := tm.open(t, OpenRequest{Path: "/dir", Access: AccessReadData, Disposition: Open, Directory: true})
		dc := h.Context().(*DirectoryContext)
		assert.True(t, dc.InBase())
		assert.False(t, dc.InOverlay())
		assert.False(t, dc.Writable())
	})

	t.Run("WithoutDirectoryFlag", func(t *testing.T) {
		h := tm.open(t, OpenRequest{Path: "/odir", Access: AccessReadData, Disposition: OpenOrCreate})
		dc := h.Context().(*DirectoryContext)
		assert.True(t, dc.InOverlay())
		assert.True(t, dc.Writable())
	})

	t.Run("FileAsDirectory", func(t *testing.T) {
		for _, name := range []string{"/dir/file.txt", "/odir/file.txt"} {
			_, err := tm.CreateOrOpen(OpenRequest{Path: name, Disposition: Open, Directory: true})
			assert.Equal(t, StatusNotADirectory, Classify(err), name)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := tm.CreateOrOpen(OpenRequest{Path: "/nodir", Disposition: Open, Directory: true})
		assert.Equal(t, StatusPathNotFound, Classify(err))
	})

	t.Run("CreateOnDirectory", func(t *testing.T) {
		for _, d := range []Disposition{Create, Truncate} {
			_, err := tm.CreateOrOpen(OpenRequest{Path: "/dir", Access: AccessWriteData, Disposition: d})
			assert.Equal(t, StatusIsADirectory, Classify(err), d.String())
		}
	})

	t.Run("UnsupportedDisposition", func(t *testing.T) {
		_, err := tm.CreateOrOpen(OpenRequest{Path: "/dir", Disposition: Truncate, Directory: true})
		assert.Equal(t, StatusUnsuccessful, Classify(err))
	})
}

// TestMkdirMirrorsBaseParents tests that creating below a base directory
// builds the overlay parent chain with the base modes
func TestMkdirMirrorsBaseParents(t *testing.T) {
	tm := newTestMount(t)
	require.NoError(t, os.MkdirAll(tm.basePath("/a/b"), 0o755))
	require.NoError(t, os.Chmod(tm.basePath("/a/b"), 0o750))

	h := tm.open(t, OpenRequest{Path: "/a/b/c", Disposition: CreateNew, Directory: true, Perm: 0o700})
	dc := h.Context().(*DirectoryContext)
	assert.True(t, dc.InOverlay())
	assert.False(t, dc.InBase())

	info, err := os.Stat(tm.overlayPath("/a/b"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())

	info, err = os.Stat(tm.overlayPath("/a/b/c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestOpenRequestPerm(t *testing.T) {
	assert.Equal(t, os.FileMode(0o644), OpenRequest{}.perm(false))
	assert.Equal(t, os.FileMode(0o755), OpenRequest{}.perm(true))
	assert.Equal(t, os.FileMode(0o600), OpenRequest{Perm: 0o600}.perm(false))
}
