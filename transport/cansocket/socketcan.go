// Package cansocket talks to a Linux SocketCAN interface (e.g. can0) using
// a raw AF_CAN socket, producing n2k.CANFrame values for the Reassembler.
package cansocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nmeagw/n2kgw"
)

const (
	canRaw = 1

	// canIDMask covers the three flag bits (EFF/RTR/ERR) above the 29-bit
	// arbitration ID; clearing it leaves just the ID.
	canIDMask = uint32(0b111) << 29
	// canIDERRFlag marks an error-condition frame (0 = data frame).
	canIDERRFlag = uint32(1 << 29)
	// canIDRTRFlag marks a remote-transmission-request frame.
	canIDRTRFlag = uint32(1 << 30)
	// canIDEFFFlag marks an extended (29-bit) identifier.
	canIDEFFFlag = uint32(1 << 31)
)

var errReadTimeout = errors.New("cansocket: read timeout")
var errWriteTimeout = errors.New("cansocket: write timeout")

// connection wraps one bound raw AF_CAN socket file descriptor.
type connection struct {
	socketFD int
	timeNow  func() time.Time
}

func newConnection(ifName string) (*connection, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("cansocket: bad interface name: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("cansocket: could not create CAN socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err = unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("cansocket: could not bind CAN socket: %w", err)
	}

	return &connection{socketFD: fd, timeNow: time.Now}, nil
}

func isContinuableSocketErr(err error) bool {
	return err == syscall.EWOULDBLOCK || err == syscall.EINTR
}

func (c connection) setReadTimeout(timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(c.socketFD, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (c connection) close() error {
	return unix.Close(c.socketFD)
}

// encodeSocketCANFrame renders frame into the 16-byte struct can_frame
// layout SocketCAN expects. Split out from sendFrame so the encoding can
// be unit tested without a real socket.
func encodeSocketCANFrame(frame n2k.CANFrame) []byte {
	canFrame := make([]byte, 16)

	canID := frame.ID.Uint32() | canIDEFFFlag
	binary.LittleEndian.PutUint32(canFrame[0:4], canID)

	canFrame[4] = byte(len(frame.Payload))
	copy(canFrame[8:], frame.Payload)

	return canFrame
}

// decodeSocketCANFrame parses a 16-byte struct can_frame buffer into a
// CANFrame. Split out from readFrame so the decoding can be unit tested
// without a real socket.
func decodeSocketCANFrame(canFrame []byte) (n2k.CANFrame, error) {
	canID := binary.LittleEndian.Uint32(canFrame[0:4])
	if canID&canIDRTRFlag != 0 {
		return n2k.CANFrame{}, errors.New("cansocket: read a remote transmission request frame")
	}
	if canID&canIDERRFlag != 0 {
		return n2k.CANFrame{}, errors.New("cansocket: read a CAN error message frame")
	}

	length := canFrame[4]
	payload := make([]byte, length)
	copy(payload, canFrame[8:8+int(length)])

	return n2k.CANFrame{
		ID:      n2k.ParseArbitrationID(canID &^ canIDMask),
		Payload: payload,
	}, nil
}

// sendFrame writes one CAN frame to the bus. It exists to support the
// demonstration transmitter only; the ingestion pipeline never calls it.
func (c connection) sendFrame(frame n2k.CANFrame) error {
	_, err := unix.Write(c.socketFD, encodeSocketCANFrame(frame))
	if isContinuableSocketErr(err) {
		return errWriteTimeout
	}
	return err
}

func (c connection) readFrame() (n2k.CANFrame, error) {
	canFrame := make([]byte, 16)
	_, err := unix.Read(c.socketFD, canFrame)
	if err != nil {
		if isContinuableSocketErr(err) {
			return n2k.CANFrame{}, errReadTimeout
		}
		return n2k.CANFrame{}, err
	}
	return decodeSocketCANFrame(canFrame)
}
