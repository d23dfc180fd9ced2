package capture

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPopulatedFile(t *testing.T, n int, options ...Config) *CaptureFile {
	t.Helper()

	cf, err := Open(tmpCapturePath(t), append([]Config{WithWrite()}, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { cf.Close() })

	for i := 1; i <= n; i++ {
		_, err := cf.AddRecord([]byte(fmt.Sprintf("record %d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, cf.Commit())
	return cf
}

func TestIterateAll(t *testing.T) {
	var (
		assert = assert.New(t)
		cf     = newPopulatedFile(t, 50)
	)

	it, err := cf.Records(1)
	require.NoError(t, err)

	seen := 0
	for it.Next() {
		seen++
		assert.Equal(fmt.Sprintf("record %d", seen), string(it.Record()))
	}
	assert.NoError(it.Err())
	assert.Equal(50, seen)

	// The iterator is one-shot.
	assert.False(it.Next())
}

func TestIterateFromOffset(t *testing.T) {
	var (
		assert = assert.New(t)
		cf     = newPopulatedFile(t, 20, WithFanOut(2), WithCompressionBlockSize(64))
	)

	it, err := cf.Records(15)
	require.NoError(t, err)

	want := 15
	for it.Next() {
		assert.Equal(fmt.Sprintf("record %d", want), string(it.Record()))
		want++
	}
	assert.NoError(it.Err())
	assert.Equal(21, want)
}

func TestIterateBounds(t *testing.T) {
	var (
		assert = assert.New(t)
		cf     = newPopulatedFile(t, 3)
	)

	_, err := cf.Records(0)
	assert.ErrorIs(err, ErrOutOfRange)

	// Starting past the end is an empty iteration, not an error.
	it, err := cf.Records(4)
	require.NoError(t, err)
	assert.False(it.Next())
	assert.NoError(it.Err())
}

func TestIteratorKeepsItsSnapshot(t *testing.T) {
	var (
		assert = assert.New(t)
		cf     = newPopulatedFile(t, 5, WithFanOut(2), WithCompressionBlockSize(64))
	)

	it, err := cf.Records(1)
	require.NoError(t, err)

	// Records added after the iterator was created stay invisible to it,
	// even once committed.
	for i := 6; i <= 12; i++ {
		_, err := cf.AddRecord([]byte(fmt.Sprintf("record %d", i)))
		assert.NoError(err)
	}
	assert.NoError(cf.Commit())

	seen := 0
	for it.Next() {
		seen++
		assert.Equal(fmt.Sprintf("record %d", seen), string(it.Record()))
	}
	assert.NoError(it.Err())
	assert.Equal(5, seen)
}

func TestIteratorOnClosedFile(t *testing.T) {
	var (
		assert = assert.New(t)
		cf     = newPopulatedFile(t, 3)
	)

	it, err := cf.Records(1)
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	assert.False(it.Next())
	assert.ErrorIs(it.Err(), ErrNotOpen)
}
