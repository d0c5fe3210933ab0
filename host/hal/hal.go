package hal

import (
	"context"
	"encoding/binary"
	"strconv"
)

// Speed is the negotiated bus speed of a device.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow           // 1.5 Mbit/s
	SpeedFull          // 12 Mbit/s
	SpeedHigh          // 480 Mbit/s
	SpeedSuper         // 5 Gbit/s
)

var speedNames = [...]string{"unknown", "low", "full", "high", "super"}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return "speed(" + strconv.Itoa(int(s)) + ")"
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// SetupPacket is the 8-byte header of a control transfer.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength, size of the data stage
}

// MarshalTo writes the packet to buf in wire order and returns
// SetupPacketSize, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// IsIn reports whether the data stage runs device-to-host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// TransferType is the endpoint transfer type, as encoded in bmAttributes.
// The host transfer layer executes control and bulk transfers only.
type TransferType uint8

const (
	TransferControl   TransferType = 0
	TransferBulk      TransferType = 2
	TransferInterrupt TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// DeviceAddress represents a USB device address (1-127).
type DeviceAddress uint8

// HostHAL defines the Hardware Abstraction Layer interface for the host
// transfer layer.
//
// A HAL is bound to one attached device. It performs blocking transfers;
// the host transfer manager turns them into asynchronous completions.
//
// All methods should be safe for concurrent use where applicable.
type HostHAL interface {
	// Init opens the underlying controller or device node.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Close releases all resources associated with the HAL.
	// After Close returns, the HAL should not be used.
	Close() error

	// ControlTransfer performs a control transfer to a device.
	// For OUT transfers, data contains the data to send.
	// For IN transfers, data is filled with received data.
	// Returns the number of bytes transferred in the data phase.
	ControlTransfer(ctx context.Context, addr DeviceAddress, setup *SetupPacket, data []byte) (int, error)

	// BulkTransfer performs a bulk transfer to/from an endpoint.
	// For IN endpoints, data is filled with received data.
	// For OUT endpoints, data contains the data to send.
	// Returns the number of bytes transferred. A stalled endpoint
	// reports pkg.ErrStall.
	BulkTransfer(ctx context.Context, addr DeviceAddress, endpoint uint8, data []byte) (int, error)

	// ClaimInterface claims exclusive access to an interface on a device.
	// HALs that share the device with a kernel driver detach it first.
	ClaimInterface(addr DeviceAddress, iface uint8) error

	// ReleaseInterface releases a previously claimed interface.
	ReleaseInterface(addr DeviceAddress, iface uint8) error
}
