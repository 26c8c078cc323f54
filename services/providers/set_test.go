package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string                                        { return s.name }
func (s *stubProvider) Invoke(context.Context, *Request) (*Response, error) { return &Response{}, nil }
func (s *stubProvider) Healthy(context.Context) bool                        { return true }

func TestSet_RegisterAndGet(t *testing.T) {
	set := NewSet()

	require.NoError(t, set.Register(&stubProvider{name: "projecthub"}))
	require.NoError(t, set.Register(&stubProvider{name: "openai"}))

	p, err := set.Get("projecthub")
	require.NoError(t, err)
	assert.Equal(t, "projecthub", p.Name())
	assert.Equal(t, 2, set.Count())
	assert.Equal(t, []string{"openai", "projecthub"}, set.Names())
}

func TestSet_RegisterRejectsDuplicates(t *testing.T) {
	set := NewSet()

	require.NoError(t, set.Register(&stubProvider{name: "projecthub"}))
	err := set.Register(&stubProvider{name: "projecthub"})
	assert.ErrorIs(t, err, ErrProviderAlreadyRegistered)
}

func TestSet_RegisterRejectsNilAndUnnamed(t *testing.T) {
	set := NewSet()

	assert.Error(t, set.Register(nil))
	assert.Error(t, set.Register(&stubProvider{name: ""}))
}

func TestSet_GetUnknownProvider(t *testing.T) {
	set := NewSet()

	_, err := set.Get("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
