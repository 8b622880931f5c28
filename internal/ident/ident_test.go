package ident

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_UniqueAndParseable(t *testing.T) {
	gen := UUIDv7Generator{}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.NewID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}
}

func TestFixedGenerator_ReturnsInOrder(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.NewID())
	assert.Equal(t, "b", gen.NewID())
	assert.Panics(t, func() { gen.NewID() })
}

func TestSequenceGenerator_Increments(t *testing.T) {
	gen := NewSequenceGenerator("op")
	assert.Equal(t, "op-1", gen.NewID())
	assert.Equal(t, "op-2", gen.NewID())
	assert.Equal(t, "op-3", gen.NewID())
}
