package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_SeededIDs(t *testing.T) {
	d := NewDirectory("P1", " Dr1 ", "")

	ok, err := d.Exists(context.Background(), "P1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Exists(context.Background(), "Dr1")
	assert.True(t, ok)

	ok, _ = d.Exists(context.Background(), "ghost")
	assert.False(t, ok)
}

func TestDirectory_OpenAcceptsAnyNonEmpty(t *testing.T) {
	d := NewOpenDirectory()

	ok, _ := d.Exists(context.Background(), "anyone")
	assert.True(t, ok)

	ok, _ = d.Exists(context.Background(), "  ")
	assert.False(t, ok)
}
