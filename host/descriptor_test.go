package host

import (
	"errors"
	"testing"

	"github.com/ardnew/softmsc/pkg"
)

func TestParseDeviceDescriptor(t *testing.T) {
	var desc DeviceDescriptor
	if err := ParseDeviceDescriptor(testDeviceDescriptor, &desc); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if desc.USBVersion != 0x0200 {
		t.Errorf("USBVersion = 0x%04X, want 0x0200", desc.USBVersion)
	}
	if desc.MaxPacketSize0 != 64 {
		t.Errorf("MaxPacketSize0 = %d, want 64", desc.MaxPacketSize0)
	}
	if desc.VendorID != 0x0781 || desc.ProductID != 0x5551 {
		t.Errorf("VID:PID = %04X:%04X, want 0781:5551", desc.VendorID, desc.ProductID)
	}
	if desc.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d, want 1", desc.NumConfigurations)
	}
}

func TestParseDescriptor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		parse   func([]byte) error
		data    []byte
		wantErr error
	}{
		{
			"device too short",
			func(b []byte) error { return ParseDeviceDescriptor(b, &DeviceDescriptor{}) },
			testDeviceDescriptor[:17],
			pkg.ErrDescriptorTooShort,
		},
		{
			"device wrong type",
			func(b []byte) error { return ParseDeviceDescriptor(b, &DeviceDescriptor{}) },
			append([]byte{0x12, 0x02}, testDeviceDescriptor[2:]...),
			pkg.ErrDescriptorTypeMismatch,
		},
		{
			"interface too short",
			func(b []byte) error { return ParseInterfaceDescriptor(b, &InterfaceDescriptor{}) },
			[]byte{0x09, 0x04, 0x00},
			pkg.ErrDescriptorTooShort,
		},
		{
			"endpoint bLength too small",
			func(b []byte) error { return ParseEndpointDescriptor(b, &EndpointDescriptor{}) },
			[]byte{0x06, 0x05, 0x81, 0x02, 0x00, 0x02, 0x00},
			pkg.ErrDescriptorTooShort,
		},
		{
			"configuration wrong type",
			func(b []byte) error { return ParseConfigurationDescriptor(b, &ConfigurationDescriptor{}) },
			[]byte{0x09, 0x04, 0x20, 0x00, 0x01, 0x01, 0x00, 0x80, 0x32},
			pkg.ErrDescriptorTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.parse(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseConfiguration(t *testing.T) {
	cfg, err := ParseConfiguration(testConfigDescriptor)
	if err != nil {
		t.Fatalf("ParseConfiguration() error = %v", err)
	}
	if cfg.TotalLength != 32 {
		t.Errorf("TotalLength = %d, want 32", cfg.TotalLength)
	}
	if len(cfg.Interfaces) != 1 {
		t.Fatalf("interfaces = %d, want 1", len(cfg.Interfaces))
	}

	iface := cfg.Interfaces[0]
	if iface.InterfaceClass != 0x08 || iface.InterfaceSubClass != 0x06 || iface.InterfaceProtocol != 0x50 {
		t.Errorf("class = %02X/%02X/%02X, want 08/06/50",
			iface.InterfaceClass, iface.InterfaceSubClass, iface.InterfaceProtocol)
	}
	if len(iface.Endpoints) != 2 {
		t.Fatalf("endpoints = %d, want 2", len(iface.Endpoints))
	}

	in, out := iface.Endpoints[0], iface.Endpoints[1]
	if !in.IsIn() || !in.IsBulk() || in.Number() != 1 || in.MaxPacketSize != 512 {
		t.Errorf("endpoint 0 = %+v, want bulk IN 0x81/512", in)
	}
	if !out.IsOut() || !out.IsBulk() || out.Number() != 2 {
		t.Errorf("endpoint 1 = %+v, want bulk OUT 0x02", out)
	}

	if found := cfg.FindInterfaces(0x08); len(found) != 1 {
		t.Errorf("FindInterfaces(0x08) = %d interfaces, want 1", len(found))
	}
	if found := cfg.FindInterfaces(0x03); len(found) != 0 {
		t.Errorf("FindInterfaces(0x03) = %d interfaces, want 0", len(found))
	}
}

func TestParseConfiguration_ClassSpecific(t *testing.T) {
	data := []byte{
		0x09, 0x02, 0x1B, 0x00, 0x01, 0x01, 0x00, 0x80, 0x32,
		0x09, 0x04, 0x00, 0x00, 0x01, 0x03, 0x00, 0x00, 0x00,
		0x09, 0x21, 0x11, 0x01, 0x00, 0x01, 0x22, 0x20, 0x00, // HID
	}

	cfg, err := ParseConfiguration(data)
	if err != nil {
		t.Fatalf("ParseConfiguration() error = %v", err)
	}
	if len(cfg.Interfaces[0].Extra) != 1 || cfg.Interfaces[0].Extra[0][1] != 0x21 {
		t.Errorf("Extra = %v, want one class descriptor of type 0x21", cfg.Interfaces[0].Extra)
	}
}

func TestParseConfiguration_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated header", testConfigDescriptor[:5]},
		{"endpoint outside interface", []byte{
			0x09, 0x02, 0x10, 0x00, 0x01, 0x01, 0x00, 0x80, 0x32,
			0x07, 0x05, 0x81, 0x02, 0x00, 0x02, 0x00,
		}},
		{"zero length descriptor", []byte{
			0x09, 0x02, 0x0B, 0x00, 0x01, 0x01, 0x00, 0x80, 0x32,
			0x00, 0x04,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfiguration(tt.data); err == nil {
				t.Error("ParseConfiguration() error = nil, want error")
			}
		})
	}
}

func BenchmarkParseConfiguration(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ParseConfiguration(testConfigDescriptor)
	}
}
