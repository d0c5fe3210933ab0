package host

import (
	"context"
	"encoding/binary"
	baseerrors "errors"
	"sync"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

// Device represents an attached USB device from the host's perspective.
//
// Device satisfies the collaborator interface the mass-storage class driver
// needs: asynchronous transfer submission, transfer allocation, interface
// claim/release and endpoint halt recovery.
type Device struct {
	host    *Host
	address uint8

	// Device descriptor
	descriptor DeviceDescriptor

	// Configuration descriptor (raw and parsed)
	rawConfig []byte
	config    *Configuration

	// Claimed interfaces
	claimed map[uint8]struct{}

	// State
	state DeviceState
	mutex sync.RWMutex
}

// newDevice creates a new device instance.
func newDevice(host *Host, address uint8) *Device {
	return &Device{
		host:    host,
		address: address,
		claimed: make(map[uint8]struct{}),
		state:   DeviceStateAttached,
	}
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	return d.address
}

// VendorID returns the device vendor ID.
func (d *Device) VendorID() uint16 {
	return d.descriptor.VendorID
}

// ProductID returns the device product ID.
func (d *Device) ProductID() uint16 {
	return d.descriptor.ProductID
}

// Descriptor returns the device descriptor.
func (d *Device) Descriptor() DeviceDescriptor {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.descriptor
}

// Configuration returns the parsed configuration, or nil before
// ReadConfiguration succeeds.
func (d *Device) Configuration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.config
}

// RawConfiguration returns the full configuration descriptor bytes.
// The returned slice references internal storage; do not modify.
func (d *Device) RawConfiguration() []byte {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.rawConfig
}

// State returns the current device state.
func (d *Device) State() DeviceState {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// ControlTransfer performs a blocking control transfer to the device.
func (d *Device) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	return d.host.hal.ControlTransfer(ctx, hal.DeviceAddress(d.address), setup, data)
}

// GetDescriptor performs a GET_DESCRIPTOR request.
func (d *Device) GetDescriptor(ctx context.Context, descType, descIndex uint8, langID uint16, data []byte) (int, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Index:       langID,
		Length:      uint16(len(data)),
	}
	return d.ControlTransfer(ctx, &setup, data)
}

// ReadDescriptors reads the device descriptor and the first configuration
// descriptor tree.
func (d *Device) ReadDescriptors(ctx context.Context) error {
	var buf [DeviceDescriptorSize]byte
	n, err := d.GetDescriptor(ctx, DescriptorTypeDevice, 0, 0, buf[:])
	if err != nil {
		return errors.Wrap(err, "get device descriptor")
	}
	var desc DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:n], &desc); err != nil {
		return err
	}

	d.mutex.Lock()
	d.descriptor = desc
	d.mutex.Unlock()

	return d.ReadConfiguration(ctx, 0)
}

// ReadConfiguration fetches and parses the configuration descriptor at
// the given index: the header first, then the full tree.
func (d *Device) ReadConfiguration(ctx context.Context, index uint8) error {
	var header [ConfigurationDescriptorSize]byte
	n, err := d.GetDescriptor(ctx, DescriptorTypeConfiguration, index, 0, header[:])
	if err != nil {
		return errors.Wrap(err, "get configuration header")
	}
	if n < ConfigurationDescriptorSize {
		return errors.Wrapf(pkg.ErrDescriptorTooShort, "configuration header: %d bytes", n)
	}

	total := int(binary.LittleEndian.Uint16(header[2:]))
	if total < ConfigurationDescriptorSize || total > MaxDescriptorSize {
		return errors.Wrapf(pkg.ErrInvalidParameter, "configuration total length %d", total)
	}

	raw := make([]byte, total)
	n, err = d.GetDescriptor(ctx, DescriptorTypeConfiguration, index, 0, raw)
	if err != nil {
		return errors.Wrap(err, "get configuration")
	}
	raw = raw[:n]

	cfg, err := ParseConfiguration(raw)
	if err != nil {
		return errors.Wrap(err, "parse configuration")
	}

	d.mutex.Lock()
	d.rawConfig = raw
	d.config = cfg
	d.state = DeviceStateConfigured
	d.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHost, "configuration read",
		"address", d.address,
		"interfaces", len(cfg.Interfaces),
		"length", len(raw))
	return nil
}

// ClearEndpointHalt clears the halt condition on an endpoint.
func (d *Device) ClearEndpointHalt(ctx context.Context, endpoint uint8) error {
	setup := hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeEndpoint,
		Request:     RequestClearFeature,
		Value:       FeatureEndpointHalt,
		Index:       uint16(endpoint),
	}
	_, err := d.ControlTransfer(ctx, &setup, nil)
	return err
}

// ClaimInterface claims an interface on the device.
func (d *Device) ClaimInterface(iface uint8) error {
	if err := d.host.hal.ClaimInterface(hal.DeviceAddress(d.address), iface); err != nil {
		return errors.Wrapf(err, "claim interface %d", iface)
	}
	d.mutex.Lock()
	d.claimed[iface] = struct{}{}
	d.mutex.Unlock()
	return nil
}

// ReleaseInterface releases a previously claimed interface.
func (d *Device) ReleaseInterface(iface uint8) error {
	d.mutex.Lock()
	_, ok := d.claimed[iface]
	delete(d.claimed, iface)
	d.mutex.Unlock()

	if !ok {
		return errors.Wrapf(pkg.ErrInvalidParameter, "interface %d not claimed", iface)
	}
	if err := d.host.hal.ReleaseInterface(hal.DeviceAddress(d.address), iface); err != nil {
		return errors.Wrapf(err, "release interface %d", iface)
	}
	return nil
}

// AllocTransfer allocates a transfer addressed to this device.
func (d *Device) AllocTransfer(size int) (*Transfer, error) {
	t, err := d.host.transfers.Alloc(size)
	if err != nil {
		return nil, err
	}
	t.Address = d.address
	return t, nil
}

// FreeTransfer releases a transfer allocated with AllocTransfer.
func (d *Device) FreeTransfer(t *Transfer) error {
	return d.host.transfers.Free(t)
}

// Submit queues a transfer for asynchronous execution.
func (d *Device) Submit(t *Transfer) error {
	if d.State() == DeviceStateDetached {
		return pkg.ErrNoDevice
	}
	t.Address = d.address
	_, err := d.host.transfers.Submit(t)
	return err
}

// Close releases every claimed interface and marks the device detached.
func (d *Device) Close() error {
	d.mutex.Lock()
	if d.state == DeviceStateDetached {
		d.mutex.Unlock()
		return nil
	}
	d.state = DeviceStateDetached
	ifaces := make([]uint8, 0, len(d.claimed))
	for iface := range d.claimed {
		ifaces = append(ifaces, iface)
	}
	d.claimed = make(map[uint8]struct{})
	d.mutex.Unlock()

	var errs []error
	for _, iface := range ifaces {
		if err := d.host.hal.ReleaseInterface(hal.DeviceAddress(d.address), iface); err != nil {
			errs = append(errs, err)
		}
	}
	return baseerrors.Join(errs...)
}
