package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	chunks := Split([]byte("abcdefg"), 3)
	assert.Equal(t, [][]byte{[]byte("abc"), []byte("def"), []byte("g")}, chunks)

	assert.Equal(t, [][]byte{{}}, Split(nil, 3))
	assert.Len(t, Split(make([]byte, 10), 0), 1)
}

func TestNameRoundTrip(t *testing.T) {
	assert.Equal(t, "00000012", Name(12))

	idx, ok := ParseName("00000012.chunk")
	assert.True(t, ok)
	assert.Equal(t, 12, idx)

	_, ok = ParseName("tmp-123")
	assert.False(t, ok)
	_, ok = ParseName("00000000")
	assert.False(t, ok)
}
