package n2k

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/nmeagw/n2kgw/catalog"
)

// Consumer receives every successfully decoded record, in ingestion order.
// Implementations must not block for long; anything that needs to run on
// its own schedule (a broadcast server, a CSV logger) should enqueue to its
// own worker instead of doing the work inline.
type Consumer interface {
	Consume(pgn uint32, rec *DecodedRecord, desc *catalog.PGNDescriptor)
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(pgn uint32, rec *DecodedRecord, desc *catalog.PGNDescriptor)

func (f ConsumerFunc) Consume(pgn uint32, rec *DecodedRecord, desc *catalog.PGNDescriptor) {
	f(pgn, rec, desc)
}

// DecoderConfig mirrors the teacher's knob for whether positional-only
// fields (Reserved, SID, unnamed) are worth leaving observable; kept for
// parity even though the default (false) matches spec behavior exactly.
type DecoderConfig struct {
	// EmitReservedFields, if true, also records Reserved/SID fields under
	// their raw catalog name instead of only advancing the bit cursor.
	EmitReservedFields bool
}

// Decoder applies a PGN descriptor to a reassembled payload, producing a
// DecodedRecord with scaled values, units, and resolved enum names.
type Decoder struct {
	catalog *catalog.Catalog
	config  DecoderConfig
	log     *zap.SugaredLogger
}

// NewDecoder returns a Decoder using the default configuration.
func NewDecoder(cat *catalog.Catalog, log *zap.SugaredLogger) *Decoder {
	return NewDecoderWithConfig(cat, DecoderConfig{}, log)
}

// NewDecoderWithConfig returns a Decoder with explicit configuration.
func NewDecoderWithConfig(cat *catalog.Catalog, cfg DecoderConfig, log *zap.SugaredLogger) *Decoder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Decoder{catalog: cat, config: cfg, log: log}
}

// Decode applies the catalog descriptor for id.PGN to payload. It returns
// (nil, nil, nil) when the PGN is unknown to the catalog — a silent frame-level
// drop, per the error taxonomy. A non-nil error indicates a field-level
// decode failure (unsupported width or type), which callers should treat
// as worth logging but not fatal to the ingestion loop.
func (d *Decoder) Decode(id ArbitrationID, payload []byte) (*DecodedRecord, *catalog.PGNDescriptor, error) {
	desc, ok := d.catalog.Lookup(id.PGN)
	if !ok {
		return nil, nil, nil
	}

	rec := NewDecodedRecord()
	rec.Set(KeyPGN, id.PGN)
	rec.Set(KeyPriority, id.Priority)
	rec.Set(KeySourceAddress, id.SourceAddress)
	rec.Set(KeyDestinationAddr, id.Destination)

	bitOffset := 0
	bitLength := 0
	for _, field := range desc.Fields {
		switch {
		case field.BitLengthVariable:
			bitOffset = bitOffset + bitLength
			bitLength = -1
		default:
			bitOffset = field.BitOffset
			bitLength = field.BitLength
		}

		if bitLength < 0 {
			// Variable-length field: only the length-prefixed ASCII variant
			// exists in this catalog, and it is intentionally unsupported.
			_, _, err := catalog.ExtractLengthPrefixedASCII(payload, bitOffset)
			if err != nil {
				return nil, nil, fmt.Errorf("decode pgn %d field %q: %w", id.PGN, field.Name, err)
			}
			continue
		}

		if !field.IsEmittable() {
			if d.config.EmitReservedFields && field.Name != "" {
				d.setScalar(rec, field, bitOffset, bitLength, payload)
			}
			continue
		}

		if err := d.decodeField(rec, field, bitOffset, bitLength, payload); err != nil {
			return nil, nil, fmt.Errorf("decode pgn %d field %q: %w", id.PGN, field.Name, err)
		}
	}

	return rec, &desc, nil
}

func (d *Decoder) decodeField(rec *DecodedRecord, field catalog.FieldDescriptor, bitOffset, bitLength int, payload []byte) error {
	switch field.Type {
	case catalog.FieldTypeASCIIText:
		text, err := catalog.ExtractASCIIText(payload, bitOffset, bitLength)
		if err != nil {
			return err
		}
		rec.Set(field.Name, text)
		rec.Set(field.Name+":RawValue", text)
		rec.Set(field.Name+":Units", "")
		rec.Set(field.Name+":LongName", field.LongName)
		return nil
	case catalog.FieldTypeASCIILengthLed:
		_, _, err := catalog.ExtractLengthPrefixedASCII(payload, bitOffset)
		return err
	default:
		return d.decodeScalarOrLookup(rec, field, bitOffset, bitLength, payload)
	}
}

func (d *Decoder) setScalar(rec *DecodedRecord, field catalog.FieldDescriptor, bitOffset, bitLength int, payload []byte) {
	_ = d.decodeScalarOrLookup(rec, field, bitOffset, bitLength, payload)
}

func (d *Decoder) decodeScalarOrLookup(rec *DecodedRecord, field catalog.FieldDescriptor, bitOffset, bitLength int, payload []byte) error {
	value, raw, err := catalog.ExtractInteger(payload, bitOffset, bitLength, field.Signed)
	if err != nil {
		return err
	}

	if bitLength > 0 && isUnknownRaw(raw, bitLength, field.Signed) {
		rec.Set(field.Name+":RawValue", value)
		rec.Set(field.Name, Unknown)
		rec.Set(field.Name+":Units", "")
		return nil
	}

	scaled := float64(value)
	if field.Resolution != 1 {
		scaled = float64(value) * field.Resolution
	}
	rec.Set(field.Name+":RawValue", scaled)

	var outValue interface{} = scaled
	if field.Resolution == 1 {
		outValue = value
	}
	if field.Type == catalog.FieldTypeLookup && field.EnumValues != nil {
		key := int(raw & field.EnumMask)
		if name, ok := field.EnumValues[key]; ok {
			outValue = name
		} else {
			outValue = strconv.Itoa(key)
		}
	}

	rec.Set(field.Name, outValue)
	rec.Set(field.Name+":Units", field.Units)
	rec.Set(field.Name+":LongName", field.LongName)
	return nil
}

// isUnknownRaw reports whether raw is the NMEA 2000 "not available" bit
// pattern for a bitLength-wide field: all-ones, or (for signed fields)
// all-ones right-shifted by one. Both candidates are checked because
// different PGNs use either convention for their signed fields' sentinel.
func isUnknownRaw(raw uint64, bitLength int, signed bool) bool {
	if bitLength <= 0 {
		return false
	}
	allOnes := (uint64(1) << uint(bitLength)) - 1
	if raw == allOnes {
		return true
	}
	return signed && raw == allOnes>>1
}
