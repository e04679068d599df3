package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/internal/format"
)

func TestNewArenaValidation(t *testing.T) {
	_, err := NewArena(0x1000, 123)
	assert.ErrorIs(t, err, ErrBadAlign)

	_, err = NewArena(0x1003, format.PageSize)
	assert.ErrorIs(t, err, ErrBadAlign)

	_, err = NewArena(0x1000, 0)
	assert.ErrorIs(t, err, ErrBadAlign)
}

func TestArenaMap(t *testing.T) {
	a, err := NewArena(0x8000_0000, 4*format.PageSize)
	require.NoError(t, err)

	assert.Equal(t, PhysAddr(0x8000_0000), a.Base())
	assert.Equal(t, uint64(4*format.PageSize), a.Size())

	// In-range view is writable and aliased.
	v := a.Map(0x8000_0000+format.PageSize, format.PageSize)
	require.NotNil(t, v)
	require.Len(t, v, format.PageSize)
	v[0] = 0xAB
	again := a.Map(0x8000_0000+format.PageSize, 1)
	require.NotNil(t, again)
	assert.Equal(t, byte(0xAB), again[0])

	// Out-of-range requests return nil rather than panicking.
	assert.Nil(t, a.Map(0x7FFF_F000, format.PageSize))
	assert.Nil(t, a.Map(0x8000_0000+3*format.PageSize, 2*format.PageSize))
	assert.Nil(t, a.Map(0x8000_0000, 0))
}
