package cansocket

import (
	"context"
	"errors"
	"time"

	"github.com/nmeagw/n2kgw"
)

// Device is a live SocketCAN transport bound to one network interface
// (e.g. "can0"). It is a live-CAN analogue of logreplay's text parsers:
// both produce n2k.CANFrame values for a Reader to consume.
type Device struct {
	conn *connection

	ifName string

	// receiveDataTimeout bounds how long ReadFrame may go without any bus
	// traffic before giving up; each individual read is polled in short
	// slices so a cancelled context is noticed promptly.
	receiveDataTimeout time.Duration

	timeNow func() time.Time
}

// Config holds the construction-time options for a Device.
type Config struct {
	// InterfaceName is the SocketCAN interface to bind, e.g. "can0".
	InterfaceName string
	// ReceiveDataTimeout bounds how long ReadFrame tolerates silence on
	// the bus before returning an error. Defaults to 5s if zero.
	ReceiveDataTimeout time.Duration
}

// NewDevice returns a Device for cfg. Call Open before reading.
func NewDevice(cfg Config) *Device {
	timeout := cfg.ReceiveDataTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Device{
		ifName:             cfg.InterfaceName,
		timeNow:            time.Now,
		receiveDataTimeout: timeout,
	}
}

// Open binds the raw CAN socket.
func (d *Device) Open() error {
	conn, err := newConnection(d.ifName)
	if err != nil {
		return err
	}
	d.conn = conn
	return nil
}

// Close releases the CAN socket.
func (d *Device) Close() error {
	return d.conn.close()
}

// SendFrame transmits one CAN frame. It exists for the demonstration
// transmitter only; the ingestion pipeline never calls it.
func (d *Device) SendFrame(frame n2k.CANFrame) error {
	return d.conn.sendFrame(frame)
}

// ReadFrame blocks until one CAN frame arrives, the context is cancelled,
// or the bus has been silent for longer than receiveDataTimeout.
func (d *Device) ReadFrame(ctx context.Context) (n2k.CANFrame, error) {
	start := d.timeNow()
	for {
		select {
		case <-ctx.Done():
			return n2k.CANFrame{}, ctx.Err()
		default:
		}

		if err := d.conn.setReadTimeout(50 * time.Millisecond); err != nil {
			return n2k.CANFrame{}, err
		}
		frame, err := d.conn.readFrame()
		now := d.timeNow()
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				if now.Sub(start) > d.receiveDataTimeout {
					return n2k.CANFrame{}, err
				}
				continue
			}
			return n2k.CANFrame{}, err
		}

		return frame, nil
	}
}
