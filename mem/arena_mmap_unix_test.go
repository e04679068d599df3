//go:build unix

package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/format"
)

func TestMmapArena(t *testing.T) {
	a, err := NewMmapArena(0x4000_0000, 16*format.PageSize)
	require.NoError(t, err)
	defer a.Close()

	v := a.Map(0x4000_0000, format.PageSize)
	require.NotNil(t, v)
	v[format.PageSize-1] = 0x7F
	assert.Equal(t, byte(0x7F), a.Map(0x4000_0000, format.PageSize)[format.PageSize-1])

	require.NoError(t, a.Close())
	assert.Nil(t, a.Map(0x4000_0000, 1))
	assert.NoError(t, a.Close())
}

func TestMmapArenaValidation(t *testing.T) {
	_, err := NewMmapArena(0x4000_0001, format.PageSize)
	assert.ErrorIs(t, err, ErrBadAlign)

	_, err = NewMmapArena(0x4000_0000, 0)
	assert.ErrorIs(t, err, ErrBadAlign)
}
