// Package nmea0183 renders a subset of the state cache's current values as
// classic NMEA 0183 ASCII sentences: $<body>*<xx>\r\n, where <xx> is the
// XOR checksum of body as two lowercase hex digits. Grounded on the
// teacher's canboat.MarshalRawMessage's bytes.Buffer + strconv composition
// style, reused here for checksummed ASCII instead of canboat's debug CSV
// line.
package nmea0183

import (
	"bytes"
	"fmt"

	"github.com/nmeagw/n2kgw"
)

// stateReader is the read side of cache.StateCache that the encoder needs;
// kept as a narrow local interface so this package does not import cache
// and stays free to be used against a fake in tests.
type stateReader interface {
	Get(key string) (interface{}, bool)
}

const (
	metersPerNauticalMile = 1852.0
	radiansToDegrees      = 180.0 / 3.14159265358979323846
)

// Encoder renders SDDPT, VWVHW and IIMWV sentences from a state cache.
type Encoder struct {
	cache stateReader
}

// New returns an Encoder reading from cache.
func New(cache stateReader) *Encoder {
	return &Encoder{cache: cache}
}

// Produce renders every currently available sentence, concatenated (each
// carries its own \r\n terminator), for use as a broadcast.Config.Produce
// callback. A sentence is skipped when a value it requires is Unknown or
// missing; an Unknown DepthOffset alone is rendered as 0.
func (e *Encoder) Produce() []byte {
	var buf bytes.Buffer
	for _, render := range []func() (string, bool){e.depth, e.speedThroughWater, e.wind} {
		sentence, ok := render()
		if !ok {
			continue
		}
		buf.WriteString(sentence)
	}
	return buf.Bytes()
}

func (e *Encoder) floatValue(key string) (float64, bool) {
	v, ok := e.cache.Get(key)
	if !ok || n2k.IsUnknown(v) {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// depth renders $SDDPT,<depth>,<offset>*hh.
func (e *Encoder) depth() (string, bool) {
	depth, depthOK := e.floatValue("Depth")
	offset, offsetOK := e.floatValue("DepthOffset")
	if !depthOK {
		return "", false
	}
	if !offsetOK {
		offset = 0
	}
	body := fmt.Sprintf("SDDPT,%.1f,%.1f", depth, offset)
	return sentence(body), true
}

// speedThroughWater renders $VWVHW,,,,,<knots>,N,<kmh>,K*hh. Heading
// fields are left blank; this gateway has no heading-through-water source.
func (e *Encoder) speedThroughWater() (string, bool) {
	mps, ok := e.floatValue("SpeedThroughWater")
	if !ok {
		return "", false
	}
	knots := mps * 3600 / metersPerNauticalMile
	kmh := mps * 3.6
	body := fmt.Sprintf("VWVHW,,,,,%.1f,N,%.1f,K", knots, kmh)
	return sentence(body), true
}

// wind renders $IIMWV,<angle>,R,<speed>,N,A*hh. Reference is always R
// (relative/apparent) since WindReference carries the source PGN's own
// reference enum, not a VWVHW-style field the sentence format exposes.
func (e *Encoder) wind() (string, bool) {
	angleRad, angleOK := e.floatValue("WindAngle")
	speedMps, speedOK := e.floatValue("WindSpeed")
	if !angleOK || !speedOK {
		return "", false
	}
	angleDeg := angleRad * radiansToDegrees
	knots := speedMps * 3600 / metersPerNauticalMile
	body := fmt.Sprintf("IIMWV,%.1f,R,%.1f,N,A", angleDeg, knots)
	return sentence(body), true
}

func sentence(body string) string {
	return fmt.Sprintf("$%s*%02x\r\n", body, checksum(body))
}

// checksum XORs every byte of body together.
func checksum(body string) byte {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return c
}
