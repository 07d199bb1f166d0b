package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractInteger(t *testing.T) {
	var testCases = []struct {
		name          string
		data          []byte
		bitOffset     int
		bitLength     int
		signed        bool
		expectValue   int64
		expectRaw     uint64
		expectErr     bool
	}{
		{
			name:        "byte aligned uint16",
			data:        []byte{0xFF, 0x0A, 0x00, 0xFF},
			bitOffset:   8,
			bitLength:   16,
			expectValue: 10,
			expectRaw:   10,
		},
		{
			name:        "sub-byte aligned 3 bits",
			data:        []byte{0xFF, 0b1001_1111, 0xFF, 0xFF},
			bitOffset:   12,
			bitLength:   3,
			expectValue: 1,
			expectRaw:   1,
		},
		{
			name:        "mid-byte crossing into next byte",
			data:        []byte{0xFF, 0b0001_1111, 0b1111_0000, 0xFF},
			bitOffset:   12,
			bitLength:   8,
			expectValue: 1,
			expectRaw:   1,
		},
		{
			name:        "signed negative 16 bit",
			data:        []byte{0xFE, 0xFF, 0x00, 0x00},
			bitOffset:   0,
			bitLength:   16,
			signed:      true,
			expectValue: -2,
			expectRaw:   0xFFFE,
		},
		{
			name:        "3 byte value zero padded to 4",
			data:        []byte{0x01, 0x00, 0x01, 0xFF},
			bitOffset:   0,
			bitLength:   24,
			expectValue: 0x010001,
			expectRaw:   0x010001,
		},
		{
			name:        "short frame tolerance returns zero",
			data:        []byte{0xFF},
			bitOffset:   4,
			bitLength:   16,
			expectValue: 0,
			expectRaw:   0,
		},
		{
			name:      "unsupported width errors",
			data:      []byte{0, 0, 0, 0, 0, 0, 0},
			bitOffset: 0,
			bitLength: 48,
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			value, raw, err := ExtractInteger(tc.data, tc.bitOffset, tc.bitLength, tc.signed)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expectValue, value)
			assert.Equal(t, tc.expectRaw, raw)
		})
	}
}

func TestExtractInteger_RoundTrip(t *testing.T) {
	// Bit extractor round-trip: packing v at (offset,length) and
	// extracting yields v, for any unsigned v within range.
	data := make([]byte, 8)
	offset := 5
	length := 11
	for v := uint64(0); v < (1 << uint(length)); v += 7 {
		for i := range data {
			data[i] = 0
		}
		packed := v << uint(offset)
		data[0] = byte(packed)
		data[1] = byte(packed >> 8)
		data[2] = byte(packed >> 16)

		_, raw, err := ExtractInteger(data, offset, length, false)
		assert.NoError(t, err)
		assert.Equal(t, v, raw)
	}
}

func TestExtractASCIIText(t *testing.T) {
	text, err := ExtractASCIIText([]byte("HELLO\xff\xff\xff"), 0, 8*8)
	assert.NoError(t, err)
	assert.Equal(t, "HELLO", text)
}

func TestExtractLengthPrefixedASCII_Unsupported(t *testing.T) {
	_, _, err := ExtractLengthPrefixedASCII([]byte{0x05, 'h', 'i'}, 0)
	assert.ErrorIs(t, err, ErrUnsupportedFieldType)
}
