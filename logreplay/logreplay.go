// Package logreplay reads captured NMEA 2000 traffic back from a text log
// file, one CAN frame per line, in either Raymarine Lighthouse II or
// candump format. Grounded on the teacher's canboat.Device: a bufio.Scanner
// over an io.Reader, blank lines skipped, one frame returned per call,
// io.EOF once the scanner is exhausted.
package logreplay

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nmeagw/n2kgw"
)

// Device replays a text CAN log as a sequence of n2k.CANFrame values.
type Device struct {
	reader    io.Reader
	scanner   *bufio.Scanner
	parseLine func(line string) (n2k.CANFrame, error)
}

// NewRaymarineDevice replays a Raymarine Lighthouse II CAN log.
func NewRaymarineDevice(reader io.Reader) *Device {
	return newDevice(reader, parseRaymarineLine)
}

// NewCandumpDevice replays a candump CAN log.
func NewCandumpDevice(reader io.Reader) *Device {
	return newDevice(reader, parseCandumpLine)
}

func newDevice(reader io.Reader, parseLine func(line string) (n2k.CANFrame, error)) *Device {
	return &Device{
		reader:    reader,
		scanner:   bufio.NewScanner(reader),
		parseLine: parseLine,
	}
}

// ReadFrame returns the next frame in the log, or io.EOF once exhausted.
func (d *Device) ReadFrame() (n2k.CANFrame, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		return d.parseLine(line)
	}
	if err := d.scanner.Err(); err != nil {
		return n2k.CANFrame{}, err
	}
	return n2k.CANFrame{}, io.EOF
}

// Close releases the underlying reader, if it supports it.
func (d *Device) Close() error {
	if c, ok := d.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// parseRaymarineLine parses one Lighthouse II log line:
//
//	Rx <timestamp> <id0> <id1> <id2> <id3> <payload...>
//
// where the 4 identifier bytes are concatenated big-endian into the
// 29-bit arbitration ID.
func parseRaymarineLine(line string) (n2k.CANFrame, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return n2k.CANFrame{}, fmt.Errorf("logreplay: Raymarine line has too few tokens: %q", line)
	}
	if fields[0] != "Rx" && fields[0] != "Tx" {
		return n2k.CANFrame{}, fmt.Errorf("logreplay: Raymarine line missing Rx/Tx token: %q", line)
	}

	idBytes, err := hex.DecodeString(strings.Join(fields[2:6], ""))
	if err != nil || len(idBytes) != 4 {
		return n2k.CANFrame{}, fmt.Errorf("logreplay: Raymarine line has invalid identifier bytes: %q", line)
	}
	canID := binary.BigEndian.Uint32(idBytes)

	payload, err := decodeHexTokens(fields[6:])
	if err != nil {
		return n2k.CANFrame{}, fmt.Errorf("logreplay: Raymarine line has invalid payload: %w", err)
	}

	return n2k.CANFrame{ID: n2k.ParseArbitrationID(canID), Payload: payload}, nil
}

// parseCandumpLine parses one candump log line:
//
//	<interface> <hex id> <dlc marker> <payload...>
func parseCandumpLine(line string) (n2k.CANFrame, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return n2k.CANFrame{}, fmt.Errorf("logreplay: candump line has too few tokens: %q", line)
	}

	canID, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return n2k.CANFrame{}, fmt.Errorf("logreplay: candump line has invalid identifier: %q", line)
	}

	payload, err := decodeHexTokens(fields[3:])
	if err != nil {
		return n2k.CANFrame{}, fmt.Errorf("logreplay: candump line has invalid payload: %w", err)
	}

	return n2k.CANFrame{ID: n2k.ParseArbitrationID(uint32(canID)), Payload: payload}, nil
}

func decodeHexTokens(tokens []string) ([]byte, error) {
	payload := make([]byte, len(tokens))
	for i, tok := range tokens {
		b, err := hex.DecodeString(tok)
		if err != nil || len(b) != 1 {
			return nil, errors.New("token is not a single hex byte: " + tok)
		}
		payload[i] = b[0]
	}
	return payload, nil
}
