package layfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// testMount is a Mount over two fresh temporary directories
type testMount struct {
	*Mount
	baseDir    string
	overlayDir string
	logs       *test.Hook
}

func newTestMount(t testing.TB, opts ...Option) *testMount {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	tm := &testMount{
		baseDir:    t.TempDir(),
		overlayDir: t.TempDir(),
		logs:       hook,
	}
	opts = append([]Option{WithLogger(log), WithMetadataStore(NewMemoryStore())}, opts...)

	m, err := New(tm.baseDir, tm.overlayDir, opts...)
	require.NoError(t, err)
	tm.Mount = m
	return tm
}

func (tm *testMount) basePath(vpath string) string {
	return filepath.Join(tm.baseDir, filepath.FromSlash(vpath))
}

func (tm *testMount) overlayPath(vpath string) string {
	return filepath.Join(tm.overlayDir, filepath.FromSlash(vpath))
}

// writeBase creates a file with its parents directly in the base directory
func (tm *testMount) writeBase(t testing.TB, vpath, content string) {
	t.Helper()
	writeFile(t, tm.basePath(vpath), content)
}

// writeOverlay creates a file with its parents directly in the overlay directory
func (tm *testMount) writeOverlay(t testing.TB, vpath, content string) {
	t.Helper()
	writeFile(t, tm.overlayPath(vpath), content)
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// open opens req and closes the handle when the test ends
func (tm *testMount) open(t testing.TB, req OpenRequest) *Handle {
	t.Helper()
	h, err := tm.CreateOrOpen(req)
	require.NoError(t, err)
	t.Cleanup(func() { tm.Close(h) })
	return h
}

func (tm *testMount) openRead(t testing.TB, vpath string) *Handle {
	return tm.open(t, OpenRequest{Path: vpath, Access: AccessReadData, Disposition: Open})
}

func (tm *testMount) openWrite(t testing.TB, vpath string) *Handle {
	return tm.open(t, OpenRequest{Path: vpath, Access: AccessWriteData, Disposition: Open})
}

// readAll reads the whole file behind h through offset-addressed reads
func (tm *testMount) readAll(t testing.TB, h *Handle) string {
	t.Helper()
	var data []byte
	buf := make([]byte, 7)
	for off := int64(0); ; {
		n, err := tm.Read(h, buf, off)
		require.NoError(t, err)
		if n == 0 {
			return string(data)
		}
		data = append(data, buf[:n]...)
		off += int64(n)
	}
}

// readVirtual opens vpath read-only and returns its content
func (tm *testMount) readVirtual(t testing.TB, vpath string) string {
	t.Helper()
	h, err := tm.CreateOrOpen(OpenRequest{Path: vpath, Access: AccessReadData, Disposition: Open})
	require.NoError(t, err)
	defer tm.Close(h)
	return tm.readAll(t, h)
}

func readPhysical(t testing.TB, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func overlayNames(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

// hasLog reports whether any captured entry carries msg
func (tm *testMount) hasLog(msg string) bool {
	for _, e := range tm.logs.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}
