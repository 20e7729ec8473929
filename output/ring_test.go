package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingWrapAround(t *testing.T) {
	b := newRing(8, 2)
	assert.NoError(t, b.Write([]byte{1, 2, 3, 4, 5, 6}, false))

	p := make([]byte, 4)
	assert.Equal(t, 4, b.Read(p))
	assert.Equal(t, []byte{1, 2, 3, 4}, p)

	assert.NoError(t, b.Write([]byte{7, 8, 9, 10, 11, 12}, false))
	assert.Equal(t, 8, b.Len())

	out := make([]byte, 10)
	assert.Equal(t, 8, b.Read(out))
	assert.Equal(t, []byte{5, 6, 7, 8, 9, 10, 11, 12, 0, 0}, out)
}

func TestRingSilentWrite(t *testing.T) {
	b := newRing(8, 2)
	assert.NoError(t, b.Write([]byte{1, 2, 3, 4}, true))
	p := []byte{9, 9, 9, 9}
	b.Read(p)
	assert.Equal(t, []byte{0, 0, 0, 0}, p)
}

func TestRingReadKeepsFrameAlignment(t *testing.T) {
	b := newRing(16, 4)
	assert.Equal(t, 16, b.Cap())
	assert.NoError(t, b.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}, false))

	p := make([]byte, 6)
	assert.Equal(t, 4, b.Read(p))
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0}, p)
	assert.Equal(t, 4, b.Len())
}

func TestRingSizeRoundedToAlignment(t *testing.T) {
	assert.Equal(t, 4092, newRing(4096, 6).Cap())
	assert.Equal(t, 6, newRing(2, 6).Cap())
}

func TestRingClose(t *testing.T) {
	b := newRing(4, 2)
	b.Close()
	assert.ErrorIs(t, b.Write([]byte{1, 2}, false), ErrClosed)
}
