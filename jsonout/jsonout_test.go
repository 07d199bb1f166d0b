package jsonout

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmeagw/n2kgw"
	"github.com/nmeagw/n2kgw/catalog"
)

func newTestEncoder() *Encoder {
	e := New()
	e.timeNow = func() time.Time {
		return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	}
	return e
}

func TestConsume_AccumulatesAndProduceFlushesInOrder(t *testing.T) {
	e := newTestEncoder()

	rec1 := n2k.NewDecodedRecord()
	rec1.Set(n2k.KeyPriority, uint8(3))
	rec1.Set(n2k.KeySourceAddress, uint8(23))
	rec1.Set(n2k.KeyDestinationAddr, uint8(255))
	rec1.Set("Depth", 0.1)
	rec1.Set("Depth:Units", "m")
	rec1.Set("Depth:LongName", "Depth")

	rec2 := n2k.NewDecodedRecord()
	rec2.Set(n2k.KeyPriority, uint8(2))
	rec2.Set(n2k.KeySourceAddress, uint8(35))
	rec2.Set(n2k.KeyDestinationAddr, uint8(255))
	rec2.Set("WindSpeed", 38.12)

	desc := &catalog.PGNDescriptor{PGN: 128267, Description: "Water Depth"}
	e.Consume(128267, rec1, desc)
	e.Consume(130306, rec2, &catalog.PGNDescriptor{PGN: 130306, Description: "Wind Data"})

	out := e.Produce()
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "2026-07-30-12:00:00.000", first["timestamp"])
	assert.Equal(t, float64(128267), first["pgn"])
	assert.Equal(t, "Water Depth", first["description"])
	assert.Equal(t, float64(23), first["src"])
	fields, ok := first["Fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0.1, fields["Depth"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "Wind Data", second["description"])
}

func TestProduce_EmptyWhenNothingConsumed(t *testing.T) {
	e := newTestEncoder()
	assert.Nil(t, e.Produce())
}

func TestProduce_ResetsBufferAfterFlush(t *testing.T) {
	e := newTestEncoder()
	rec := n2k.NewDecodedRecord()
	e.Consume(1, rec, nil)

	first := e.Produce()
	assert.NotEmpty(t, first)

	second := e.Produce()
	assert.Nil(t, second)
}

func TestFieldsOf_ConvertsRadiansToDegreesAndRendersUnknown(t *testing.T) {
	rec := n2k.NewDecodedRecord()
	rec.Set("WindAngle", 1.5708)
	rec.Set("WindAngle:Units", "rad")
	rec.Set("Offset", n2k.Unknown)

	fields := fieldsOf(rec)
	assert.InDelta(t, 90.0, fields["WindAngle"], 0.01)
	assert.Equal(t, "Unknown", fields["Offset"])
}

func TestFieldsOf_UsesLongNameWhenPresent(t *testing.T) {
	rec := n2k.NewDecodedRecord()
	rec.Set("WindSpeed", 10.0)
	rec.Set("WindSpeed:LongName", "Wind Speed")

	fields := fieldsOf(rec)
	_, bareKeyPresent := fields["WindSpeed"]
	assert.False(t, bareKeyPresent)
	assert.Equal(t, 10.0, fields["Wind Speed"])
}

func TestFieldsOf_SkipsRecordMetadataKeys(t *testing.T) {
	rec := n2k.NewDecodedRecord()
	rec.Set(n2k.KeyPGN, uint32(128267))
	rec.Set(n2k.KeySourceAddress, uint8(23))
	rec.Set("Depth", 1.0)

	fields := fieldsOf(rec)
	assert.Len(t, fields, 1)
	assert.Contains(t, fields, "Depth")
}
