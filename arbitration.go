// Package n2k ingests NMEA 2000 traffic: it reassembles Fast Packet
// sequences from raw CAN frames, decodes PGNs against a catalog, and fans
// decoded records out to registered consumers.
package n2k

// Well-known source addresses.
const (
	AddressNull   uint8 = 254
	AddressGlobal uint8 = 255 // broadcast / "no destination"
)

// ArbitrationID is a parsed 29-bit CAN identifier, decomposed per the
// J1939/NMEA 2000 PDU1/PDU2 rules.
type ArbitrationID struct {
	Priority       uint8
	PGN            uint32
	SourceAddress  uint8
	Destination    uint8 // AddressGlobal when the PGN is broadcast (PDU2)
}

// ParseArbitrationID decomposes a 29-bit CAN identifier (right-justified
// in a uint32) into its J1939 fields.
//
//	bit 26-28: priority
//	bit 8-25:  PDU format / PDU specific / data page (encodes PGN)
//	bit 0-7:   source address
func ParseArbitrationID(canID uint32) ArbitrationID {
	result := ArbitrationID{
		Priority:      uint8((canID >> 26) & 0x7),
		SourceAddress: uint8(canID),
	}

	ps := uint8(canID >> 8)
	pduFormat := uint8(canID >> 16)
	rAndDP := uint8(canID>>24) & 0x3

	pgn := (uint32(rAndDP) << 16) + uint32(pduFormat)<<8
	if pduFormat < 240 {
		// PDU1 (addressed): PS carries the destination address.
		result.Destination = ps
		result.PGN = pgn
	} else {
		// PDU2 (broadcast): PS extends the PGN, destination is implied global.
		result.Destination = AddressGlobal
		result.PGN = pgn + uint32(ps)
	}
	return result
}

// Uint32 re-encodes the ArbitrationID as a 29-bit CAN identifier
// (right-justified in a uint32, caller adds the extended-frame flag).
func (a ArbitrationID) Uint32() uint32 {
	canID := uint32(a.SourceAddress)

	pf := uint8(a.PGN >> 8)
	if pf < 240 {
		canID |= uint32(a.Destination) << 8
	}
	canID |= a.PGN << 8
	canID |= uint32(a.Priority&0x7) << 26
	return canID
}

// CANFrame is one raw 0-8 byte CAN payload with its parsed identifier.
type CANFrame struct {
	ID      ArbitrationID
	Payload []byte
}
