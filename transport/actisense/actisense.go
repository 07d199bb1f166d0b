// Package actisense talks to an Actisense NGT-1 (or W2K-1) gateway over a
// serial connection, speaking its DLE/STX/ETX-framed binary protocol.
//
// Message structure:
//
//	DLE STX <command> <len> [<data> ...] <checksum> DLE ETX
//
// <data> has any literal DLE byte doubled (DLE DLE); <checksum> makes the
// sum of all unescaped data bytes, plus the command byte, plus the length
// byte, zero modulo 256.
package actisense

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/nmeagw/n2kgw"
)

const (
	stx = 0x02
	etx = 0x03
	dle = 0x10

	cmdNGTMessageReceived = 0x93 // NGT-1 binary format, already fast-packet assembled
	cmdNGTMessageSend     = 0x94

	cmdN2KMessageReceived = 0xD0 // N2K binary format, one raw CAN frame per message
	cmdN2KMessageSend     = 0xD1

	cmdRAWMessageReceived = 0x95 // W2K-1 RAW Actisense format, one raw CAN frame per message
	cmdRAWMessageSend     = 0x96

	cmdDeviceMessageSend = 0xA1 // device control message (e.g. clear PGN filter)
)

// Message is one frame read from the device. AlreadyAssembled is true for
// the NGT-1 binary format, whose hardware performs Fast Packet reassembly
// itself before handing the message up; callers should feed such messages
// straight to a Decoder. It is false for the N2K and RAW binary formats,
// which deliver one raw 0-8 byte CAN frame at a time and still need a
// Reassembler.
type Message struct {
	ID               n2k.ArbitrationID
	Payload          []byte
	AlreadyAssembled bool
}

// Config configures a Device.
type Config struct {
	// ReceiveDataTimeout bounds how long ReadMessage tolerates silence
	// before returning an error. Defaults to 5s if zero.
	ReceiveDataTimeout time.Duration
	// DebugLogRawMessageBytes logs every raw frame sent/received.
	DebugLogRawMessageBytes bool
}

// Device is an Actisense NGT-1/W2K-1 transport over any io.ReadWriter
// (typically a *serial.Port).
type Device struct {
	device io.ReadWriter

	sleepFunc func(timeout time.Duration)
	timeNow   func() time.Time

	config Config
}

// NewDevice wraps reader (an open serial connection) as an Actisense
// transport.
func NewDevice(reader io.ReadWriter, cfg Config) *Device {
	if cfg.ReceiveDataTimeout == 0 {
		cfg.ReceiveDataTimeout = 5 * time.Second
	}
	return &Device{
		device:    reader,
		sleepFunc: time.Sleep,
		timeNow:   time.Now,
		config:    cfg,
	}
}

type frameState uint8

const (
	waitingStartOfMessage frameState = iota
	readingMessageData
	processingEscapeSequence
)

// ReadMessage blocks until one complete device message is read, the
// context is cancelled, or the device has been silent past
// ReceiveDataTimeout.
func (d *Device) ReadMessage(ctx context.Context) (Message, error) {
	message := make([]byte, 1792) // Actisense N2K binary format caps around ISO-TP's 1785 bytes
	messageByteIndex := 0

	buf := make([]byte, 1)
	lastReadWithDataTime := d.timeNow()
	var previousByte, currentByte byte

	state := waitingStartOfMessage
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		default:
		}

		n, err := d.device.Read(buf)
		if err != nil && !(errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF)) {
			return Message{}, err
		}

		now := d.timeNow()
		if n == 0 {
			if errors.Is(err, io.EOF) && now.Sub(lastReadWithDataTime) > d.config.ReceiveDataTimeout {
				return Message{}, err
			}
			continue
		}
		lastReadWithDataTime = now
		previousByte = currentByte
		currentByte = buf[0]

		switch state {
		case waitingStartOfMessage:
			if previousByte == dle && currentByte == stx {
				state = readingMessageData
			}
		case readingMessageData:
			if currentByte == dle {
				state = processingEscapeSequence
				break
			}
			message[messageByteIndex] = currentByte
			messageByteIndex++
		case processingEscapeSequence:
			if currentByte == dle {
				state = readingMessageData
				message[messageByteIndex] = currentByte
				messageByteIndex++
				break
			}
			if currentByte == etx {
				msg := message[0:messageByteIndex]
				if d.config.DebugLogRawMessageBytes {
					fmt.Printf("# actisense rx: %x\n", msg)
				}
				switch msg[0] {
				case cmdNGTMessageReceived, cmdNGTMessageSend:
					result, err := fromNGTBinaryMessage(msg)
					if err == nil {
						return result, nil
					}
					return Message{}, err
				case cmdN2KMessageReceived, cmdN2KMessageSend:
					result, err := fromN2KBinaryMessage(msg)
					if err == nil {
						return result, nil
					}
					return Message{}, err
				case cmdRAWMessageReceived, cmdRAWMessageSend:
					result, err := fromRAWBinaryMessage(msg)
					if err == nil {
						return result, nil
					}
					return Message{}, err
				}
			}
			// device-control message or unrecognized command: discard and resync
			state = waitingStartOfMessage
			messageByteIndex = 0
		}
	}
}

func fromNGTBinaryMessage(raw []byte) (Message, error) {
	length := len(raw) - 2 // command(raw[0]) + len(raw[1])
	data := raw[2:]
	if length < 11 {
		return Message{}, errors.New("actisense: NGT message too short")
	}

	const dataPartIndex = 11
	l := data[10]
	endIndex := dataPartIndex + int(l)
	if length != endIndex+1 {
		return Message{}, fmt.Errorf("actisense: NGT message length byte %d does not match actual length %d", l, length-dataPartIndex)
	}
	if err := crcCheck(raw); err != nil {
		return Message{}, err
	}

	pgn := uint32(data[1]) + uint32(data[2])<<8 + uint32(data[3])<<16
	payload := make([]byte, l)
	copy(payload, data[dataPartIndex:endIndex])

	return Message{
		ID: n2k.ArbitrationID{
			Priority:      data[0],
			PGN:           pgn,
			Destination:   data[4],
			SourceAddress: data[5],
		},
		Payload:          payload,
		AlreadyAssembled: true,
	}, nil
}

func fromN2KBinaryMessage(raw []byte) (Message, error) {
	length := uint32(raw[1]) + uint32(raw[2])<<8
	if int(length)+1 != len(raw) {
		return Message{}, errors.New("actisense: N2K message length does not match actual data length")
	}

	dst := raw[3]
	src := raw[4]

	dprp := raw[7]
	priority := (dprp >> 2) & 7
	rAndDP := dprp & 3

	pduFormat := raw[6]
	pgn := uint32(rAndDP)<<16 + uint32(pduFormat)<<8
	if pduFormat >= 240 {
		pgn += uint32(raw[5])
	}

	const dataPartIndex = 13
	payload := make([]byte, len(raw)-dataPartIndex)
	copy(payload, raw[dataPartIndex:])

	return Message{
		ID: n2k.ArbitrationID{
			Priority:      priority,
			PGN:           pgn,
			Destination:   dst,
			SourceAddress: src,
		},
		Payload: payload,
	}, nil
}

// fromRAWBinaryMessage parses the W2K-1 RAW Actisense format:
//
//	byte 0: command
//	byte 1: length of (time counter + CAN ID + data)
//	byte 2,3: time/counter
//	byte 4-7: CAN ID, little-endian
//	byte 8..N-1: data
//	byte N: checksum
func fromRAWBinaryMessage(raw []byte) (Message, error) {
	if len(raw) < 8 {
		return Message{}, errors.New("actisense: RAW message too short")
	}
	dLen := int(raw[1])
	if dLen+3 != len(raw) {
		return Message{}, fmt.Errorf("actisense: RAW message length byte %d does not match actual length %d", dLen, len(raw)-3)
	}
	if err := crcCheck(raw); err != nil {
		return Message{}, err
	}

	canID := uint32(raw[4]) | uint32(raw[5])<<8 | uint32(raw[6])<<16 | uint32(raw[7])<<24
	payload := make([]byte, dLen-6)
	copy(payload, raw[8:len(raw)-1])

	return Message{
		ID:      n2k.ParseArbitrationID(canID),
		Payload: payload,
	}, nil
}

func crcCheck(data []byte) error {
	if crc(data) != 0 {
		return errors.New("actisense: invalid checksum")
	}
	return nil
}

// crc sums every unescaped byte modulo 256; a well-formed message
// (command + length + data + checksum) always sums to zero.
func crc(data []byte) uint8 {
	sum := uint16(0)
	for _, b := range data {
		bb := uint16(b)
		if sum+bb > 255 {
			sum = bb - (256 - sum)
			continue
		}
		sum += bb
	}
	return uint8(sum)
}

// Initialize instructs the device to clear its PGN transmit filter so it
// starts forwarding every PGN it sees on the bus.
func (d *Device) Initialize() error {
	clearPGNFilter := []byte{
		cmdDeviceMessageSend,
		3,
		0x11,
		0x02,
		0x00,
	}
	return d.writeFramed(clearPGNFilter)
}

// WriteMessage transmits one CAN-level message as the NGT-1 binary format,
// supporting the demonstration transmitter.
func (d *Device) WriteMessage(id n2k.ArbitrationID, payload []byte) error {
	buf := make([]byte, len(payload)+2+6)
	buf[0] = cmdNGTMessageSend
	buf[1] = byte(len(payload) + 6)
	buf[2] = id.Priority
	buf[3] = byte(id.PGN)
	buf[4] = byte(id.PGN >> 8)
	buf[5] = byte(id.PGN >> 16)
	buf[6] = id.Destination
	buf[7] = byte(len(payload))
	copy(buf[8:], payload)

	return d.writeFramed(buf)
}

func (d *Device) writeFramed(data []byte) error {
	packet := make([]byte, 0, len(data)+6)
	packet = append(packet, dle, stx)
	for _, b := range data {
		if b == dle {
			packet = append(packet, dle)
		}
		packet = append(packet, b)
	}
	crcByte := 0 - crc(data)
	packet = append(packet, crcByte, dle, etx)

	if d.config.DebugLogRawMessageBytes {
		fmt.Printf("# actisense tx: %x\n", packet)
	}

	toWrite := len(packet)
	totalWritten := 0
	retryCount, maxRetry := 0, 5
	for {
		n, err := d.device.Write(packet)
		if err != nil {
			if !errors.Is(err, syscall.EAGAIN) {
				return fmt.Errorf("actisense: write failure: %w", err)
			}
			retryCount++
		}
		totalWritten += n
		if totalWritten >= toWrite {
			return nil
		}
		if retryCount > maxRetry {
			return errors.New("actisense: write retry count exceeded")
		}
		d.sleepFunc(250 * time.Millisecond)
	}
}

// Close closes the underlying connection, if it supports it.
func (d *Device) Close() error {
	if c, ok := d.device.(io.Closer); ok {
		return c.Close()
	}
	return errors.New("actisense: device does not implement io.Closer")
}
