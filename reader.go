package n2k

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nmeagw/n2kgw/catalog"
)

// Reader wires together the Reassembler and Decoder and fans each decoded
// record out to its registered consumers, synchronously, on the calling
// goroutine. It is the single ingestion-thread entry point: transports
// (live CAN socket, serial NGT-1, log replay) all end up calling Feed, or
// FeedAssembled for messages the transport has already reassembled.
type Reader struct {
	reassembler *Reassembler
	decoder     *Decoder
	consumers   []Consumer
	log         *zap.SugaredLogger
}

// NewReader builds a Reader over cat, with consumers registered in the
// order they should be invoked for every decoded record.
func NewReader(cat *catalog.Catalog, log *zap.SugaredLogger, consumers ...Consumer) *Reader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reader{
		reassembler: NewReassembler(cat),
		decoder:     NewDecoder(cat, log),
		consumers:   consumers,
		log:         log,
	}
}

// Feed processes one raw CAN frame: reassembly, decoding, and fan-out.
// It never returns an error for frame-level or consumer-level problems
// (those are logged and absorbed per the error taxonomy); it returns an
// error only for a field-level decode failure, which the caller may
// choose to log and otherwise ignore.
func (r *Reader) Feed(frame CANFrame) error {
	payload, ready := r.reassembler.Feed(frame)
	if !ready {
		return nil
	}

	rec, desc, err := r.decoder.Decode(frame.ID, payload)
	if err != nil {
		return fmt.Errorf("n2k: field-level decode error: %w", err)
	}
	if rec == nil {
		// PGN absent from the catalog: silent frame-level drop.
		return nil
	}

	r.dispatch(frame.ID.PGN, rec, desc)
	return nil
}

// FeedAssembled processes one already-reassembled (pgn, payload) pair,
// skipping the Reassembler entirely. Some transports (the Actisense
// NGT-1's binary format) perform Fast Packet reassembly in hardware and
// hand up a complete message directly; this is the entry point for those.
func (r *Reader) FeedAssembled(id ArbitrationID, payload []byte) error {
	rec, desc, err := r.decoder.Decode(id, payload)
	if err != nil {
		return fmt.Errorf("n2k: field-level decode error: %w", err)
	}
	if rec == nil {
		return nil
	}
	r.dispatch(id.PGN, rec, desc)
	return nil
}

func (r *Reader) dispatch(pgn uint32, rec *DecodedRecord, desc *catalog.PGNDescriptor) {
	for _, c := range r.consumers {
		r.invokeSafely(c, pgn, rec, desc)
	}
}

// invokeSafely recovers a panicking consumer so one bad consumer cannot
// abort the ingestion loop or take down the rest of the fan-out.
func (r *Reader) invokeSafely(c Consumer, pgn uint32, rec *DecodedRecord, desc *catalog.PGNDescriptor) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorw("consumer panicked, dropping it for this record", "pgn", pgn, "panic", p)
		}
	}()
	c.Consume(pgn, rec, desc)
}
