package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2bd/firebasil.go/pkg/constants"
)

func TestParse(t *testing.T) {
	t.Run("root forms", func(t *testing.T) {
		for _, in := range []string{"", "/", "//", "///"} {
			p, err := Parse(in)
			require.NoError(t, err, "input %q", in)
			assert.True(t, p.IsRoot())
			assert.Equal(t, "/", p.String())
		}
	})

	t.Run("slashes are trimmed", func(t *testing.T) {
		for _, in := range []string{"a/b", "/a/b", "a/b/", "/a/b/"} {
			p, err := Parse(in)
			require.NoError(t, err, "input %q", in)
			assert.Equal(t, "/a/b", p.String())
			assert.Equal(t, []string{"a", "b"}, p.Segments())
		}
	})

	t.Run("empty segment rejected", func(t *testing.T) {
		_, err := Parse("a//b")
		require.Error(t, err)
		assert.ErrorIs(t, err, constants.ErrInvalidPath)
	})

	t.Run("control characters rejected", func(t *testing.T) {
		_, err := Parse("a/b\x00c")
		require.Error(t, err)
		assert.ErrorIs(t, err, constants.ErrInvalidPath)

		_, err = Parse("a/b\nc")
		assert.ErrorIs(t, err, constants.ErrInvalidPath)
	})

	t.Run("spaces and unicode allowed", func(t *testing.T) {
		p, err := Parse("users/Ann Smith/étage")
		require.NoError(t, err)
		assert.Equal(t, 3, p.Depth())
	})
}

func TestChild(t *testing.T) {
	p := MustParse("a")

	child, err := p.Child("b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", child.String())

	_, err = p.Child("b/c")
	assert.ErrorIs(t, err, constants.ErrInvalidPath)

	_, err = p.Child("")
	assert.ErrorIs(t, err, constants.ErrInvalidPath)

	// The parent is untouched.
	assert.Equal(t, "/a", p.String())
}

func TestParent(t *testing.T) {
	p := MustParse("a/b/c")

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "/a/b", parent.String())

	_, ok = Root.Parent()
	assert.False(t, ok)
}

func TestJoin(t *testing.T) {
	a := MustParse("a/b")
	b := MustParse("c/d")

	assert.Equal(t, "/a/b/c/d", a.Join(b).String())
	assert.Equal(t, "/a/b", a.Join(Root).String())
	assert.Equal(t, "/c/d", Root.Join(b).String())
}

func TestEqual(t *testing.T) {
	assert.True(t, MustParse("a/b").Equal(MustParse("/a/b/")))
	assert.False(t, MustParse("a/b").Equal(MustParse("a")))
	assert.False(t, MustParse("a/b").Equal(MustParse("a/c")))
	assert.True(t, Root.Equal(MustParse("/")))
}

func TestIsPrefixOf(t *testing.T) {
	assert.True(t, Root.IsPrefixOf(MustParse("a/b")))
	assert.True(t, MustParse("a").IsPrefixOf(MustParse("a/b")))
	assert.True(t, MustParse("a/b").IsPrefixOf(MustParse("a/b")))
	assert.False(t, MustParse("a/b").IsPrefixOf(MustParse("a")))
	assert.False(t, MustParse("a/b").IsPrefixOf(MustParse("a/c")))
}

func TestBase(t *testing.T) {
	assert.Equal(t, "c", MustParse("a/b/c").Base())
	assert.Equal(t, "", Root.Base())
}

func TestSegmentsCopy(t *testing.T) {
	p := MustParse("a/b")
	segs := p.Segments()
	segs[0] = "mutated"
	assert.Equal(t, "/a/b", p.String())
}

func TestHash(t *testing.T) {
	assert.Equal(t, MustParse("a/b").Hash(), MustParse("/a/b/").Hash())
	assert.NotEqual(t, MustParse("a/b").Hash(), MustParse("a/c").Hash())
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("a//b") })
}
