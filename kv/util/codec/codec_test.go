package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarlongRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1, ^uint64(0)} {
		buf := AppendVarlong(nil, v)
		got, rest, err := DecodeVarlong(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Empty(t, rest)
	}
}

func TestVarlongZeroIsOneByte(t *testing.T) {
	assert.Len(t, AppendVarlong(nil, 0), 1)
}

func TestDecodeVarlongShortBuffer(t *testing.T) {
	_, _, err := DecodeVarlong(nil)
	assert.Error(t, err)
	_, _, err = DecodeVarlong([]byte{0x80})
	assert.Error(t, err)
}

func TestBytesRoundTrip(t *testing.T) {
	buf := AppendBytes(nil, []byte("abc"))
	buf = AppendBytes(buf, nil)
	buf = AppendBytes(buf, []byte("d"))

	first, rest, err := DecodeBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), first)

	second, rest, err := DecodeBytes(rest)
	require.NoError(t, err)
	assert.Empty(t, second)

	third, rest, err := DecodeBytes(rest)
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), third)
	assert.Empty(t, rest)
}

func TestDecodeBytesTruncated(t *testing.T) {
	buf := AppendBytes(nil, []byte("abcdef"))
	_, _, err := DecodeBytes(buf[:3])
	assert.Error(t, err)
}
