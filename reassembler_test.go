package n2k

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmeagw/n2kgw/catalog"
)

const reassemblerTestCatalog = `{
  "PGNs": [
    {
      "PGN": 128267,
      "Description": "Water Depth",
      "Length": 8,
      "Fields": [{"Name": "SID", "BitOffset": 0, "BitLength": 8, "Type": "scalar"}]
    },
    {
      "PGN": 130306,
      "Description": "Wind Data",
      "Length": 12,
      "Fields": [{"Name": "SID", "BitOffset": 0, "BitLength": 8, "Type": "scalar"}]
    }
  ]
}`

func newTestReassembler(t *testing.T) *Reassembler {
	cat, err := catalog.Load(strings.NewReader(reassemblerTestCatalog))
	require.NoError(t, err)
	return NewReassembler(cat)
}

func TestReassembler_SingleFramePassThrough(t *testing.T) {
	r := newTestReassembler(t)
	frame := CANFrame{
		ID:      ArbitrationID{PGN: 128267, SourceAddress: 23},
		Payload: []byte{0xff, 0x0a, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff},
	}

	payload, ok := r.Feed(frame)
	require.True(t, ok)
	assert.Equal(t, frame.Payload, payload)
}

// Fast Packet wind, single sequence: see spec scenario 2.
func TestReassembler_FastPacketSingleSequence(t *testing.T) {
	r := newTestReassembler(t)
	source := uint8(35)

	frameA := CANFrame{
		ID:      ArbitrationID{PGN: 130306, SourceAddress: source},
		Payload: []byte{0x00, 0x0c, 0xff, 0xe4, 0x0e, 0xe8, 0x03, 0xfa},
	}
	_, ok := r.Feed(frameA)
	assert.False(t, ok)

	frameB := CANFrame{
		ID:      ArbitrationID{PGN: 130306, SourceAddress: source},
		Payload: []byte{0x01, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	payload, ok := r.Feed(frameB)
	require.True(t, ok)

	// 6 bytes from frame A plus 7 from frame B, truncated to the declared
	// length of 12 (0x0c).
	expect := append([]byte{}, frameA.Payload[2:]...)
	expect = append(expect, frameB.Payload[1:]...)
	expect = expect[:0x0c]
	assert.Equal(t, expect, payload)
}

// Sequence loss: see spec scenario 3.
func TestReassembler_SequenceLossIsSilent(t *testing.T) {
	r := newTestReassembler(t)
	source := uint8(35)

	frameA := CANFrame{
		ID:      ArbitrationID{PGN: 130306, SourceAddress: source},
		Payload: []byte{0x00, 0x0c, 0xff, 0xe4, 0x0e, 0xe8, 0x03, 0xfa},
	}
	_, ok := r.Feed(frameA)
	assert.False(t, ok)

	wrongSequence := CANFrame{
		ID:      ArbitrationID{PGN: 130306, SourceAddress: source},
		Payload: []byte{0x21, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, // sequence counter 1, not 0
	}
	_, ok = r.Feed(wrongSequence)
	assert.False(t, ok)

	ctx := r.byFrom[source]
	assert.True(t, ctx.idle())

	// A well-formed sequence from the same source afterward decodes normally.
	frameC := CANFrame{
		ID:      ArbitrationID{PGN: 130306, SourceAddress: source},
		Payload: []byte{0x40, 0x0c, 0xff, 0xe4, 0x0e, 0xe8, 0x03, 0xfa},
	}
	_, ok = r.Feed(frameC)
	assert.False(t, ok)

	frameD := CANFrame{
		ID:      ArbitrationID{PGN: 130306, SourceAddress: source},
		Payload: []byte{0x41, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	_, ok = r.Feed(frameD)
	assert.True(t, ok)
}

func TestReassembler_UnknownPGNPassesThrough(t *testing.T) {
	r := newTestReassembler(t)
	frame := CANFrame{
		ID:      ArbitrationID{PGN: 999999, SourceAddress: 1},
		Payload: []byte{0x00, 0x01, 0x02, 0x03},
	}
	payload, ok := r.Feed(frame)
	require.True(t, ok)
	assert.Equal(t, frame.Payload, payload)
}
