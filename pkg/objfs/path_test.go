package objfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	p, err := ParsePath("test-bucket", "/a/b/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Segments())
	assert.Equal(t, "a/b", PathToKey(p))
	assert.Equal(t, "a/b/", PrefixFor(p))
	assert.Equal(t, "/a/b", p.String())
	assert.Equal(t, "s3://test-bucket/a/b", p.URI())

	root, err := ParsePath("test-bucket", "/")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, "", PathToKey(root))
	assert.Equal(t, "", PrefixFor(root))
	assert.Equal(t, "/", root.String())
}

func TestParsePath_Invalid(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty inner segment", "a//b"},
		{"dot", "a/./b"},
		{"dot dot", "a/../b"},
		{"nul", "a/b\x00c"},
		{"bad utf8", "a/\xff"},
		{"too long", strings.Repeat("k", MaxKeyLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePath("test-bucket", tt.path)
			require.Error(t, err)
			assert.True(t, IsInvalidPath(err))
			var ipe *InvalidPathError
			assert.ErrorAs(t, err, &ipe)
		})
	}
}

func TestKeyRoundTrip(t *testing.T) {
	for _, key := range []string{
		"a",
		"a/b/c",
		"dir with space/ü.txt",
		"Case/Sensitive/KEY",
		"x/y+z=1&q",
		strings.Repeat("k", MaxKeyLength),
	} {
		p, err := KeyToPath("test-bucket", key)
		require.NoError(t, err, key)
		assert.Equal(t, key, PathToKey(p))

		back, err := KeyToPath("test-bucket", PathToKey(p))
		require.NoError(t, err)
		assert.True(t, back.Equal(p), key)
	}
}

func TestKeyToPath(t *testing.T) {
	p, err := KeyToPath("test-bucket", "dir/sub/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dir", "sub"}, p.Segments())

	root, err := KeyToPath("test-bucket", "")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	for _, key := range []string{"/", "a//b", "a/../b", "/a", "a/b//"} {
		_, err := KeyToPath("test-bucket", key)
		assert.True(t, IsInvalidPath(err), "key %q", key)
	}
}

func TestNormalizeBucket(t *testing.T) {
	b, err := NormalizeBucket("My-Bucket.01")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket.01", b)

	for _, bad := range []string{"ab", strings.Repeat("b", 64), "-abc", "abc.", "a_b", "buck et"} {
		_, err := NormalizeBucket(bad)
		assert.True(t, IsInvalidPath(err), "bucket %q", bad)
	}
}

func TestParseURI(t *testing.T) {
	p, err := ParseURI("s3://Test-Bucket/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", p.Bucket())
	assert.Equal(t, "a/b.txt", PathToKey(p))

	root, err := ParseURI("S3://test-bucket")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	for _, bad := range []string{"test-bucket/a", "gs://test-bucket/a", "s3:///a"} {
		_, err := ParseURI(bad)
		assert.True(t, IsInvalidPath(err), "uri %q", bad)
	}
}

func TestPathNavigation(t *testing.T) {
	p, err := NewPath("test-bucket", "a", "b", "c")
	require.NoError(t, err)

	assert.Equal(t, "c", p.Name())
	assert.Equal(t, 3, p.Depth())
	assert.Equal(t, "a/b", PathToKey(p.Parent()))

	anc := p.Ancestors()
	require.Len(t, anc, 3)
	assert.Equal(t, "a/b", PathToKey(anc[0]))
	assert.Equal(t, "a", PathToKey(anc[1]))
	assert.True(t, anc[2].IsRoot())

	root := anc[2]
	assert.True(t, root.Parent().IsRoot())
	assert.Empty(t, root.Ancestors())
	assert.Equal(t, "", root.Name())

	assert.True(t, p.Within(anc[1]))
	assert.True(t, p.Within(p))
	assert.True(t, p.Within(root))
	assert.False(t, anc[1].Within(p))

	sibling, err := NewPath("test-bucket", "a", "bb")
	require.NoError(t, err)
	assert.False(t, sibling.Within(p.Parent()))

	other, err := NewPath("other-bucket", "a", "b", "c")
	require.NoError(t, err)
	assert.False(t, p.Equal(other))
	assert.False(t, other.Within(anc[1]))

	child, err := p.Join("d")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c/d", PathToKey(child))
	assert.Equal(t, "a/b/c", PathToKey(p), "Join must not alias the receiver")

	_, err = p.Join("x/y")
	assert.True(t, IsInvalidPath(err))
}

func TestParentDoesNotAlias(t *testing.T) {
	p, err := NewPath("test-bucket", "a", "b")
	require.NoError(t, err)

	x, err := p.Parent().Join("x")
	require.NoError(t, err)
	assert.Equal(t, "a/x", PathToKey(x))
	assert.Equal(t, "a/b", PathToKey(p))
}

func TestNodeKindString(t *testing.T) {
	assert.Equal(t, "file", File.String())
	assert.Equal(t, "directory", Directory.String())
	assert.Equal(t, "nonexistent", NonExistent.String())
	assert.Equal(t, "unknown", NodeKind(42).String())
}
