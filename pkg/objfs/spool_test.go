package objfs

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSpool(t *testing.T, s *spool) []byte {
	t.Helper()
	out, err := io.ReadAll(io.NewSectionReader(s, 0, s.Size()))
	require.NoError(t, err)
	return out
}

func TestSpool_InMemory(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newSpool(fs, "/tmp", 64)
	defer func() { _ = s.Close() }()

	_, err := s.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	_, err = s.WriteAt([]byte("world"), 8)
	require.NoError(t, err)

	assert.False(t, s.Spilled())
	assert.Equal(t, int64(13), s.Size())
	assert.Equal(t, []byte("hello\x00\x00\x00world"), readSpool(t, s))
}

func TestSpool_Spills(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newSpool(fs, "/tmp", 8)

	_, err := s.ReadFrom(strings.NewReader("0123456789abcdef"))
	require.NoError(t, err)
	assert.True(t, s.Spilled())
	assert.Equal(t, []byte("0123456789abcdef"), readSpool(t, s))

	entries, err := afero.ReadDir(fs, "/tmp")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "bucketfs-spool-"))

	require.NoError(t, s.Close())
	entries, err = afero.ReadDir(fs, "/tmp")
	require.NoError(t, err)
	assert.Empty(t, entries, "spill file removed on close")
}

func TestSpool_Truncate(t *testing.T) {
	s := newSpool(afero.NewMemMapFs(), "/tmp", 64)
	defer func() { _ = s.Close() }()

	_, err := s.WriteAt([]byte("abcdef"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Truncate(2))
	assert.Equal(t, []byte("ab"), readSpool(t, s))

	// Bytes cut by the truncate must not reappear when the spool grows.
	require.NoError(t, s.Truncate(4))
	assert.Equal(t, []byte("ab\x00\x00"), readSpool(t, s))

	_, err = s.WriteAt([]byte("Z"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab\x00\x00\x00Z"), readSpool(t, s))

	require.NoError(t, s.Truncate(100))
	assert.True(t, s.Spilled())
	got := readSpool(t, s)
	assert.Len(t, got, 100)
	assert.Equal(t, []byte("ab\x00\x00\x00Z"), got[:6])
	assert.Equal(t, make([]byte, 94), got[6:])
}

func TestSpool_ReadAt(t *testing.T) {
	s := newSpool(afero.NewMemMapFs(), "/tmp", 64)
	defer func() { _ = s.Close() }()
	_, err := s.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := s.ReadAt(buf, 1)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("bc"), buf[:n])

	n, err = s.ReadAt(buf, 3)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = s.ReadAt(buf, -1)
	assert.Error(t, err)
}

func TestSpool_LargeRandomWrites(t *testing.T) {
	s := newSpool(afero.NewMemMapFs(), "/tmp", 1024)
	defer func() { _ = s.Close() }()

	want := bytes.Repeat([]byte("x"), 4096)
	_, err := s.WriteAt(want[:512], 0)
	require.NoError(t, err)
	assert.False(t, s.Spilled())
	_, err = s.WriteAt(want[512:], 512)
	require.NoError(t, err)
	assert.True(t, s.Spilled())
	assert.Equal(t, want, readSpool(t, s))
}
