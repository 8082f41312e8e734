package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/avmerge/internal/domain"
)

type stubSource struct{ name string }

func (s stubSource) Name() string                { return s.name }
func (stubSource) Supports(domain.Identity) bool { return true }

func (stubSource) Find(context.Context, domain.Identity) (*domain.Record, error) {
	return nil, nil
}

func TestRegistry_SelectKeepsOrder(t *testing.T) {
	reg, err := NewRegistry(stubSource{"javbus"}, stubSource{"javdb"}, stubSource{"cache"})
	require.NoError(t, err)

	all, err := reg.Select(nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"javbus", "javdb", "cache"}, reg.Names())

	got, err := reg.Select([]string{" JavDB ", "javbus", "javdb"})
	require.NoError(t, err)
	require.Len(t, got, 2, "重复名字只选一次")
	assert.Equal(t, "javdb", got[0].Name())
	assert.Equal(t, "javbus", got[1].Name())

	_, err = reg.Select([]string{"nope"})
	assert.Error(t, err)
}

func TestNewRegistry_Rejects(t *testing.T) {
	_, err := NewRegistry(stubSource{"a"}, stubSource{"A"})
	assert.Error(t, err, "名字大小写不敏感，重复应报错")

	_, err = NewRegistry(stubSource{" "})
	assert.Error(t, err)

	_, err = NewRegistry(nil)
	assert.Error(t, err)
}

func TestIsNotFound(t *testing.T) {
	err := &Error{Source: "javbus", Stage: StageSearch, Err: &HTTPStatusError{StatusCode: 404}}
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(&HTTPStatusError{StatusCode: 500}))
	assert.False(t, IsNotFound(errors.New("x")))

	var he *HTTPStatusError
	require.True(t, errors.As(err, &he), "Error 应可 Unwrap")
	assert.Equal(t, "source=javbus stage=search: HTTP 404", err.Error())
}

func TestRegistry_GetNormalizesName(t *testing.T) {
	reg, err := NewRegistry(stubSource{"javdb"})
	require.NoError(t, err)

	s, ok := reg.Get(" JavDB ")
	require.True(t, ok)
	assert.Equal(t, "javdb", s.Name())

	_, ok = reg.Get("javbus")
	assert.False(t, ok)
	_, ok = Registry{}.Get("javdb")
	assert.False(t, ok, "零值 Registry 不应 panic")
}
