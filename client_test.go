package firebasil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2bd/firebasil.go/pkg/constants"
	"github.com/k2bd/firebasil.go/pkg/path"
)

func TestNew(t *testing.T) {
	t.Run("valid endpoint", func(t *testing.T) {
		db, err := New("https://demo.firebaseio.com")
		require.NoError(t, err)
		assert.NotNil(t, db)
	})

	t.Run("trailing slash is trimmed", func(t *testing.T) {
		db, err := New("https://demo.firebaseio.com/")
		require.NoError(t, err)
		assert.Equal(t, "https://demo.firebaseio.com/.json", db.nodeURL(path.Root, nil))
	})

	t.Run("empty endpoint", func(t *testing.T) {
		_, err := New("")
		assert.ErrorIs(t, err, constants.ErrNoBaseURL)
	})

	t.Run("endpoint without scheme", func(t *testing.T) {
		_, err := New("demo.firebaseio.com")
		assert.ErrorIs(t, err, constants.ErrNoBaseURL)
	})
}

func TestNodeURL(t *testing.T) {
	db, err := New("https://demo.firebaseio.com")
	require.NoError(t, err)

	assert.Equal(t, "https://demo.firebaseio.com/.json", db.nodeURL(path.Root, nil))
	assert.Equal(t, "https://demo.firebaseio.com/users/u1.json", db.nodeURL(path.MustParse("users/u1"), nil))

	params := url.Values{}
	params.Set("orderBy", `"$key"`)
	assert.Equal(t,
		"https://demo.firebaseio.com/users.json?orderBy=%22%24key%22",
		db.nodeURL(path.MustParse("users"), params))
}

func TestRef(t *testing.T) {
	db, err := New("https://demo.firebaseio.com")
	require.NoError(t, err)

	t.Run("path forms", func(t *testing.T) {
		for _, in := range []string{"", "/"} {
			r, err := db.Ref(in)
			require.NoError(t, err)
			assert.True(t, r.Path().IsRoot())
		}

		r, err := db.Ref("/users/u1")
		require.NoError(t, err)
		assert.Equal(t, "/users/u1", r.Path().String())
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := db.Ref("a//b")
		assert.ErrorIs(t, err, constants.ErrInvalidPath)
	})

	t.Run("navigation", func(t *testing.T) {
		r, err := db.Ref("users")
		require.NoError(t, err)

		child, err := r.Child("u1", "name")
		require.NoError(t, err)
		assert.Equal(t, "/users/u1/name", child.Path().String())

		parent, ok := child.Parent()
		require.True(t, ok)
		assert.Equal(t, "/users/u1", parent.Path().String())

		assert.True(t, child.Root().Path().IsRoot())

		_, ok = child.Root().Parent()
		assert.False(t, ok)
	})

	t.Run("queries do not survive Child", func(t *testing.T) {
		r, err := db.Ref("users")
		require.NoError(t, err)

		child, err := r.OrderByKey().Child("u1")
		require.NoError(t, err)
		assert.True(t, child.Query().IsZero())
	})

	t.Run("query chain is immutable", func(t *testing.T) {
		r, err := db.Ref("users")
		require.NoError(t, err)

		limited := r.OrderByChild("age").LimitToFirst(5)
		assert.True(t, r.Query().IsZero())
		assert.NoError(t, limited.Query().Validate())
	})
}
