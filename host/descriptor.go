package host

import (
	"encoding/binary"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// DeviceDescriptor represents a USB device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// DeviceDescriptorSize is the size of a device descriptor.
const DeviceDescriptorSize = 18

// ParseDeviceDescriptor parses a device descriptor from data.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	out.USBVersion = binary.LittleEndian.Uint16(data[2:])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:])
	out.ProductID = binary.LittleEndian.Uint16(data[10:])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// ConfigurationDescriptor represents a USB configuration descriptor header.
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
}

// ConfigurationDescriptorSize is the size of a configuration descriptor header.
const ConfigurationDescriptorSize = 9

// ParseConfigurationDescriptor parses a configuration descriptor header.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if err := checkHeader(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return err
	}
	out.TotalLength = binary.LittleEndian.Uint16(data[2:])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return nil
}

// InterfaceDescriptor represents a USB interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// InterfaceDescriptorSize is the size of an interface descriptor.
const InterfaceDescriptorSize = 9

// ParseInterfaceDescriptor parses an interface descriptor from data.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if err := checkHeader(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return err
	}
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return nil
}

// EndpointDescriptor represents a USB endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// EndpointDescriptorSize is the size of an endpoint descriptor.
const EndpointDescriptorSize = 7

// ParseEndpointDescriptor parses an endpoint descriptor from data.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := checkHeader(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return err
	}
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = binary.LittleEndian.Uint16(data[4:]) & 0x07FF
	out.Interval = data[6]
	return nil
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 {
	return e.EndpointAddress & 0x0F
}

// IsIn returns true if this is an IN endpoint.
func (e *EndpointDescriptor) IsIn() bool {
	return e.EndpointAddress&EndpointDirectionIn != 0
}

// IsOut returns true if this is an OUT endpoint.
func (e *EndpointDescriptor) IsOut() bool {
	return !e.IsIn()
}

// TransferType returns the transfer type.
func (e *EndpointDescriptor) TransferType() uint8 {
	return e.Attributes & EndpointTypeMask
}

// IsBulk returns true if this is a bulk endpoint.
func (e *EndpointDescriptor) IsBulk() bool {
	return e.TransferType() == EndpointTypeBulk
}

func checkHeader(data []byte, size int, descType uint8) error {
	if len(data) < size || int(data[0]) < size {
		return errors.Wrapf(pkg.ErrDescriptorTooShort, "descriptor type 0x%02X: %d bytes", descType, len(data))
	}
	if data[1] != descType {
		return errors.Wrapf(pkg.ErrDescriptorTypeMismatch, "got 0x%02X, want 0x%02X", data[1], descType)
	}
	return nil
}

// Interface is one interface of a configuration with the endpoints and
// class-specific descriptors that follow it.
type Interface struct {
	InterfaceDescriptor
	Endpoints []EndpointDescriptor
	Extra     [][]byte
}

// Configuration is a parsed configuration descriptor tree.
type Configuration struct {
	ConfigurationDescriptor
	Interfaces []Interface
}

// ParseConfiguration parses a full configuration descriptor (header,
// interfaces, endpoints and class-specific descriptors). Alternate
// settings are kept as separate entries.
func ParseConfiguration(data []byte) (*Configuration, error) {
	cfg := &Configuration{}
	if err := ParseConfigurationDescriptor(data, &cfg.ConfigurationDescriptor); err != nil {
		return nil, err
	}

	end := min(len(data), int(cfg.TotalLength))
	cfg.Interfaces = make([]Interface, 0, cfg.NumInterfaces)
	current := -1

	for offset := int(data[0]); offset+2 <= end; {
		length := int(data[offset])
		descType := data[offset+1]
		if length < 2 || offset+length > end {
			return nil, errors.Wrapf(pkg.ErrDescriptorTooShort, "descriptor at offset %d", offset)
		}
		desc := data[offset : offset+length]

		switch descType {
		case DescriptorTypeInterface:
			if len(cfg.Interfaces) >= MaxInterfacesPerConfiguration {
				return nil, errors.Newf("more than %d interfaces", MaxInterfacesPerConfiguration)
			}
			var iface Interface
			if err := ParseInterfaceDescriptor(desc, &iface.InterfaceDescriptor); err != nil {
				return nil, err
			}
			cfg.Interfaces = append(cfg.Interfaces, iface)
			current = len(cfg.Interfaces) - 1

		case DescriptorTypeEndpoint:
			if current < 0 {
				return nil, errors.Newf("endpoint descriptor at offset %d outside an interface", offset)
			}
			iface := &cfg.Interfaces[current]
			if len(iface.Endpoints) >= MaxEndpointsPerInterface {
				return nil, errors.Newf("interface %d: more than %d endpoints", iface.InterfaceNumber, MaxEndpointsPerInterface)
			}
			var ep EndpointDescriptor
			if err := ParseEndpointDescriptor(desc, &ep); err != nil {
				return nil, err
			}
			iface.Endpoints = append(iface.Endpoints, ep)

		default:
			if current >= 0 {
				extra := make([]byte, length)
				copy(extra, desc)
				cfg.Interfaces[current].Extra = append(cfg.Interfaces[current].Extra, extra)
			}
		}

		offset += length
	}

	return cfg, nil
}

// FindInterfaces returns the interfaces with the given class code.
func (c *Configuration) FindInterfaces(class uint8) []*Interface {
	var found []*Interface
	for i := range c.Interfaces {
		if c.Interfaces[i].InterfaceClass == class {
			found = append(found, &c.Interfaces[i])
		}
	}
	return found
}
