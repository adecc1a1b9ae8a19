package idea

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySourceGet(t *testing.T) {
	src := NewMemorySource(map[string]string{"i1": "A lonely lighthouse keeper"})

	body, err := src.GetIdea(t.Context(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "A lonely lighthouse keeper", body)
}

func TestMemorySourceNotFound(t *testing.T) {
	src := NewMemorySource(nil)

	_, err := src.GetIdea(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestMemorySourcePut(t *testing.T) {
	src := NewMemorySource(nil)
	src.Put("i2", "body")

	body, err := src.GetIdea(t.Context(), "i2")
	require.NoError(t, err)
	assert.Equal(t, "body", body)
}
