package cansocket

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sudo ip link set can0 down && sudo /sbin/ip link set can0 up type can bitrate 250000
//
// These exercise a real SocketCAN interface and are disabled (x-prefixed)
// since CI has no can0.

func xTestDevice_ReadFrame(t *testing.T) {
	dev := NewDevice(Config{InterfaceName: "can0"})
	if err := dev.Open(); err != nil {
		assert.NoError(t, err)
		return
	}
	defer dev.Close()

	for i := 0; i < 100; i++ {
		f, err := dev.ReadFrame(context.Background())
		if err != nil {
			assert.NoError(t, err)
			return
		}
		fmt.Printf("frame: %+v\n", f)
	}
}
