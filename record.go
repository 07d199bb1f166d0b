package n2k

import "fmt"

// Metadata keys carried by every DecodedRecord.
const (
	KeyPGN            = "nmea2000:pgn"
	KeyPriority        = "nmea2000:priority"
	KeySourceAddress   = "nmea2000:source_address"
	KeyDestinationAddr = "nmea2000:destination_address"
)

// unknownMarker is the sentinel value stored for a field whose raw bits
// are the NMEA 2000 "not available" pattern. It has its own type so
// callers can distinguish it from a legitimate zero value with a type
// assertion rather than a sentinel comparison.
type unknownMarker struct{}

// Unknown is the value recorded for a field decoded as "not available".
var Unknown = unknownMarker{}

// IsUnknown reports whether v is the Unknown marker.
func IsUnknown(v interface{}) bool {
	_, ok := v.(unknownMarker)
	return ok
}

func (unknownMarker) String() string { return "Unknown" }

// DecodedRecord is an ordered string-keyed record produced by the Decoder.
// Ordering matters for consumers (notably jsonout, to keep field order
// stable) so entries are kept in a slice alongside the map for O(1) lookup.
type DecodedRecord struct {
	keys   []string
	values map[string]interface{}
}

// NewDecodedRecord returns an empty record ready for Set calls.
func NewDecodedRecord() *DecodedRecord {
	return &DecodedRecord{values: make(map[string]interface{})}
}

// Set assigns key to value, appending key to the iteration order the
// first time it is seen.
func (r *DecodedRecord) Set(key string, value interface{}) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value for key and whether it was present.
func (r *DecodedRecord) Get(key string) (interface{}, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the record's keys in insertion order.
func (r *DecodedRecord) Keys() []string {
	return r.keys
}

// ForEach calls fn for every key/value pair in insertion order.
func (r *DecodedRecord) ForEach(fn func(key string, value interface{})) {
	for _, k := range r.keys {
		fn(k, r.values[k])
	}
}

// PGN returns the nmea2000:pgn metadata value.
func (r *DecodedRecord) PGN() uint32 {
	v, _ := r.values[KeyPGN]
	pgn, _ := v.(uint32)
	return pgn
}

// SourceAddress returns the nmea2000:source_address metadata value.
func (r *DecodedRecord) SourceAddress() uint8 {
	v, _ := r.values[KeySourceAddress]
	addr, _ := v.(uint8)
	return addr
}

// String renders a key=value listing, chiefly for logging and debug output.
func (r *DecodedRecord) String() string {
	s := ""
	r.ForEach(func(key string, value interface{}) {
		s += fmt.Sprintf("%s=%v ", key, value)
	})
	return s
}
