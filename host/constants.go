package host

import "fmt"

// DeviceState tracks how far the host has brought an opened device.
type DeviceState uint8

const (
	DeviceStateDetached   DeviceState = iota // closed or gone
	DeviceStateAttached                      // node open, descriptors not read
	DeviceStateConfigured                    // configuration descriptor parsed
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateDetached:
		return "detached"
	case DeviceStateAttached:
		return "attached"
	case DeviceStateConfigured:
		return "configured"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Descriptor parsing limits.
const (
	MaxInterfacesPerConfiguration = 8
	MaxEndpointsPerInterface      = 16
	MaxDescriptorSize             = 512
)

// Endpoint attributes.
const (
	EndpointTypeMask    = 0x03
	EndpointTypeBulk    = 0x02
	EndpointDirectionIn = 0x80
)

// Descriptor types.
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// Standard requests and feature selectors used by the host.
const (
	RequestClearFeature  = 0x01
	RequestGetDescriptor = 0x06
	FeatureEndpointHalt  = 0x00
)

// bmRequestType fields.
const (
	RequestTypeOut       = 0x00
	RequestTypeIn        = 0x80
	RequestTypeStandard  = 0x00
	RequestTypeClass     = 0x20
	RequestTypeDevice    = 0x00
	RequestTypeInterface = 0x01
	RequestTypeEndpoint  = 0x02
)
