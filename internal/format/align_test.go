package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageAlign(t *testing.T) {
	assert.Equal(t, uint64(0), PageAlignUp(0))
	assert.Equal(t, uint64(PageSize), PageAlignUp(1))
	assert.Equal(t, uint64(PageSize), PageAlignUp(PageSize))
	assert.Equal(t, uint64(2*PageSize), PageAlignUp(PageSize+1))

	assert.Equal(t, uint64(0), PageAlignDown(PageSize-1))
	assert.Equal(t, uint64(PageSize), PageAlignDown(PageSize))
	assert.Equal(t, uint64(PageSize), PageAlignDown(2*PageSize-1))

	assert.True(t, IsPageAligned(0))
	assert.True(t, IsPageAligned(PageSize))
	assert.False(t, IsPageAligned(PageSize+8))
}

func TestPagesFor(t *testing.T) {
	assert.Equal(t, uint64(0), PagesFor(0))
	assert.Equal(t, uint64(1), PagesFor(1))
	assert.Equal(t, uint64(1), PagesFor(PageSize))
	assert.Equal(t, uint64(2), PagesFor(PageSize+1))
}

func TestAlignTo(t *testing.T) {
	assert.Equal(t, uint64(8), AlignTo(1, 8))
	assert.Equal(t, uint64(8), AlignTo(8, 8))
	assert.Equal(t, uint64(16), AlignTo(9, 8))
	assert.Equal(t, uint64(64), AlignTo(33, 64))
}

func TestOrderMath(t *testing.T) {
	assert.Equal(t, uint64(1), OrderPages(0))
	assert.Equal(t, uint64(8), OrderPages(3))
	assert.Equal(t, uint64(PageSize), OrderBytes(0))
	assert.Equal(t, uint64(8*PageSize), OrderBytes(3))

	assert.Equal(t, 0, OrderFor(0))
	assert.Equal(t, 0, OrderFor(1))
	assert.Equal(t, 1, OrderFor(2))
	assert.Equal(t, 2, OrderFor(3))
	assert.Equal(t, 2, OrderFor(4))
	assert.Equal(t, 3, OrderFor(5))
	assert.Equal(t, 12, OrderFor(4096))
}
