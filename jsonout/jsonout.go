// Package jsonout renders decoded records as one JSON object per line,
// matching the shape an analyzer-style NMEA 2000 tool expects: top-level
// timestamp/prio/src/dst/pgn/description, with per-field values nested
// under Fields. Grounded on the teacher's nmea.RawMessage/json.Marshal
// usage in cmd/n2kreader/main.go, adapted from marshalling a raw CAN
// frame to marshalling an already-decoded record.
package jsonout

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nmeagw/n2kgw"
	"github.com/nmeagw/n2kgw/catalog"
)

const radiansToDegrees = 180.0 / math.Pi

// Encoder implements n2k.Consumer, accumulating one JSON line per decoded
// record into a buffer that Produce later swaps out and flushes whole,
// matching the JSON server's own send-buffer semantics: the periodic
// produce() call owns draining it, not each individual Consume.
type Encoder struct {
	mu    sync.Mutex
	lines [][]byte

	timeNow func() time.Time
}

// New returns an empty Encoder.
func New() *Encoder {
	return &Encoder{timeNow: time.Now}
}

// Consume marshals rec to one JSON line and appends it to the pending
// buffer. A marshalling failure drops that one record rather than the
// whole buffer.
func (e *Encoder) Consume(pgn uint32, rec *n2k.DecodedRecord, desc *catalog.PGNDescriptor) {
	line, err := e.marshalLine(pgn, rec, desc)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.lines = append(e.lines, line)
	e.mu.Unlock()
}

// Produce swaps out the accumulated lines and returns them, each terminated
// by '\n', for use as a broadcast.Config.Produce callback.
func (e *Encoder) Produce() []byte {
	e.mu.Lock()
	lines := e.lines
	e.lines = nil
	e.mu.Unlock()

	if len(lines) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

type record struct {
	Timestamp   string                 `json:"timestamp"`
	Priority    uint8                  `json:"prio"`
	Source      uint8                  `json:"src"`
	Destination uint8                  `json:"dst"`
	PGN         uint32                 `json:"pgn"`
	Description string                 `json:"description"`
	Fields      map[string]interface{} `json:"Fields"`
}

func (e *Encoder) marshalLine(pgn uint32, rec *n2k.DecodedRecord, desc *catalog.PGNDescriptor) ([]byte, error) {
	description := ""
	if desc != nil {
		description = desc.Description
	}

	r := record{
		Timestamp:   e.timeNow().Format("2006-01-02-15:04:05.000"),
		Priority:    uint8MetaOf(rec, n2k.KeyPriority),
		Source:      rec.SourceAddress(),
		Destination: uint8MetaOf(rec, n2k.KeyDestinationAddr),
		PGN:         pgn,
		Description: description,
		Fields:      fieldsOf(rec),
	}
	return json.Marshal(r)
}

func uint8MetaOf(rec *n2k.DecodedRecord, key string) uint8 {
	v, _ := rec.Get(key)
	u, _ := v.(uint8)
	return u
}

// fieldsOf maps each decoded field's LongName (or its bare Name, if no
// LongName companion was recorded) to its value, converting radian
// quantities to degrees rounded to 2 decimal places and rendering the
// Unknown sentinel as the literal string "Unknown".
func fieldsOf(rec *n2k.DecodedRecord) map[string]interface{} {
	fields := make(map[string]interface{})
	rec.ForEach(func(key string, value interface{}) {
		if strings.Contains(key, ":") {
			return // companion metadata (Units/LongName/RawValue) or record metadata
		}

		label := key
		if longName, ok := rec.Get(key + ":LongName"); ok {
			if s, ok := longName.(string); ok && s != "" {
				label = s
			}
		}

		if n2k.IsUnknown(value) {
			fields[label] = "Unknown"
			return
		}

		if units, ok := rec.Get(key + ":Units"); ok && units == "rad" {
			if f, ok := value.(float64); ok {
				value = math.Round(f*radiansToDegrees*100) / 100
			}
		}
		fields[label] = value
	})
	return fields
}
