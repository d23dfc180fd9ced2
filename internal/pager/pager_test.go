package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pager.db")
	require.NoError(t, os.WriteFile(path, contents, 0644))
	return path
}

func TestOpenTracksSize(t *testing.T) {
	assert := assert.New(t)

	path := newTestFile(t, []byte("twelve bytes"))
	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(int64(12), f.Size())
}

func TestReadWriteAt(t *testing.T) {
	assert := assert.New(t)

	path := newTestFile(t, make([]byte, 64))
	f, err := Open(path, true)
	require.NoError(t, err)
	defer f.Close()

	assert.NoError(f.WriteAt(10, []byte("hello")))
	got, err := f.ReadAt(10, 5)
	assert.NoError(err)
	assert.Equal("hello", string(got))

	// Writing past the end extends the tracked size.
	assert.NoError(f.WriteAt(100, []byte("tail")))
	assert.Equal(int64(104), f.Size())

	_, err = f.ReadAt(200, 4)
	assert.Error(err)
}

func TestGrow(t *testing.T) {
	assert := assert.New(t)

	path := newTestFile(t, []byte("abc"))
	f, err := Open(path, true)
	require.NoError(t, err)
	defer f.Close()

	assert.NoError(f.Grow(4096))
	assert.Equal(int64(4096), f.Size())

	// Growing never shrinks.
	assert.NoError(f.Grow(100))
	assert.Equal(int64(4096), f.Size())

	got, err := f.ReadAt(0, 3)
	assert.NoError(err)
	assert.Equal("abc", string(got))

	assert.NoError(f.Sync())
}

func TestWriteOnReadOnlyFails(t *testing.T) {
	assert := assert.New(t)

	path := newTestFile(t, make([]byte, 16))
	f, err := Open(path, false)
	require.NoError(t, err)
	defer f.Close()

	assert.Error(f.WriteAt(0, []byte("nope")))
}
