package n2k

import "github.com/nmeagw/n2kgw/catalog"

// reassemblyContext tracks one source address's in-flight Fast Packet
// sequence. packetsLeft == 0 means idle: no buffer state is held.
type reassemblyContext struct {
	packetsLeft      int
	expectedSequence uint8
	currentPGN       uint32
	declaredLength   int
	buffer           []byte
}

func (c *reassemblyContext) idle() bool {
	return c.packetsLeft == 0
}

func (c *reassemblyContext) reset() {
	c.packetsLeft = 0
	c.expectedSequence = 0
	c.currentPGN = 0
	c.declaredLength = 0
	c.buffer = nil
}

// Reassembler is a per-source-address state machine that reconstructs
// NMEA 2000 Fast Packet sequences from 8-byte CAN frames, passing
// single-frame PGNs through untouched. It holds no concurrency of its
// own: it is driven exclusively by the ingestion goroutine.
type Reassembler struct {
	catalog *catalog.Catalog
	byFrom  map[uint8]*reassemblyContext
}

// NewReassembler returns a Reassembler that consults cat to decide
// whether a PGN is single-frame or Fast Packet.
func NewReassembler(cat *catalog.Catalog) *Reassembler {
	return &Reassembler{
		catalog: cat,
		byFrom:  make(map[uint8]*reassemblyContext),
	}
}

// Feed processes one raw CAN frame. It returns the reassembled payload
// and true when a complete message is ready for decoding; otherwise ok
// is false (frame consumed into a sequence, or dropped).
func (r *Reassembler) Feed(frame CANFrame) (payload []byte, ok bool) {
	if len(frame.Payload) < 1 {
		return nil, false
	}

	ctx, found := r.byFrom[frame.ID.SourceAddress]
	if !found {
		ctx = &reassemblyContext{}
		r.byFrom[frame.ID.SourceAddress] = ctx
	}

	if !ctx.idle() {
		return r.continueSequence(ctx, frame)
	}
	return r.startOrPassThrough(ctx, frame)
}

func (r *Reassembler) continueSequence(ctx *reassemblyContext, frame CANFrame) ([]byte, bool) {
	sequenceCounter := frame.Payload[0] >> 5

	if sequenceCounter != ctx.expectedSequence || frame.ID.PGN != ctx.currentPGN {
		// Abort: sequence loss is silent and local, per the reassembler's
		// lossy-transport contract. Drop this frame, go idle.
		ctx.reset()
		return nil, false
	}

	ctx.buffer = append(ctx.buffer, frame.Payload[1:]...)
	ctx.packetsLeft--
	if ctx.packetsLeft > 0 {
		return nil, false
	}

	buffer := ctx.buffer
	if ctx.declaredLength < len(buffer) {
		buffer = buffer[:ctx.declaredLength]
	}
	ctx.reset()
	return buffer, true
}

func (r *Reassembler) startOrPassThrough(ctx *reassemblyContext, frame CANFrame) ([]byte, bool) {
	if len(frame.Payload) < 2 {
		return frame.Payload, true
	}

	sequenceCounter := frame.Payload[0] >> 5
	declaredLength := frame.Payload[1]

	desc, inCatalog := r.catalog.Lookup(frame.ID.PGN)
	if inCatalog && desc.Length > 8 && declaredLength > 6 {
		remaining := int(declaredLength) - 6
		if remaining < 0 {
			remaining = 0
		}
		ctx.packetsLeft = (remaining + 6) / 7 // ceil(remaining/7)
		ctx.expectedSequence = sequenceCounter
		ctx.currentPGN = frame.ID.PGN
		ctx.declaredLength = int(declaredLength)
		ctx.buffer = append([]byte(nil), frame.Payload[2:]...)
		return nil, false
	}

	return frame.Payload, true
}
