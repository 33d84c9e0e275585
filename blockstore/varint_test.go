package blockstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestVarintEncode checks a handful of known encoding fixed points.
func TestVarintEncode(t *testing.T) {
	cases := []struct {
		name string
		in   uint64
		want []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"max single byte", 127, []byte{0x7f}},
		{"first two-byte value", 128, []byte{0x80, 0x01}},
		{"max encodable", uint64(1)<<63 - 1, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := encodeVarint(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestVarintEncodeOutOfRange(t *testing.T) {
	_, err := encodeVarint(uint64(1) << 63)
	assert.ErrorIs(t, err, ErrVarintRange)
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 127, 128, 129, 300, 1 << 20, uint64(1)<<63 - 1}
	for _, v := range values {
		encoded, err := encodeVarint(v)
		require.NoError(t, err)
		got, err := decodeVarint(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestVarintDecodeNonMinimal(t *testing.T) {
	// 0x80 0x00 encodes zero with a redundant continuation byte.
	_, err := decodeVarint(bytes.NewReader([]byte{0x80, 0x00}))
	assert.ErrorIs(t, err, ErrVarintNonMinimal)
}

func TestVarintDecodeTruncated(t *testing.T) {
	_, err := decodeVarint(bytes.NewReader([]byte{0x80}))
	assert.Error(t, err)
}
