package linux

import (
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/host/hal"
)

// =============================================================================
// USB Device Information
// =============================================================================

// DeviceInfo describes a USB device discovered via sysfs.
type DeviceInfo struct {
	Name         string    // sysfs entry name, e.g. "1-1.2"
	DevfsPath    string    // Path in /dev/bus/usb
	BusNum       uint8     // Bus number
	DevNum       uint8     // Device number
	VendorID     uint16    // USB Vendor ID
	ProductID    uint16    // USB Product ID
	Manufacturer string    // iManufacturer string, if exposed
	Product      string    // iProduct string, if exposed
	Serial       string    // iSerialNumber string, if exposed
	Speed        hal.Speed // Device speed

	Interfaces []InterfaceInfo
}

// InterfaceInfo describes one interface of the active configuration.
type InterfaceInfo struct {
	Number   uint8  // bInterfaceNumber
	Class    uint8  // bInterfaceClass
	SubClass uint8  // bInterfaceSubClass
	Protocol uint8  // bInterfaceProtocol
	Driver   string // bound kernel driver, empty if none
}

// IsBulkOnlyMassStorage reports whether the interface speaks SCSI over
// Bulk-Only Transport.
func (i InterfaceInfo) IsBulkOnlyMassStorage() bool {
	return i.Class == USBClassMassStorage && i.SubClass == MSCSubclassSCSI && i.Protocol == MSCProtocolBOT
}

// MassStorageInterfaces returns the device's Bulk-Only mass storage
// interfaces.
func (d *DeviceInfo) MassStorageInterfaces() []InterfaceInfo {
	var result []InterfaceInfo
	for _, iface := range d.Interfaces {
		if iface.IsBulkOnlyMassStorage() {
			result = append(result, iface)
		}
	}
	return result
}

// =============================================================================
// Sysfs Parsing
// =============================================================================

// ScanDevices scans a sysfs USB device directory, normally
// os.DirFS(SysfsUSBPath), for USB devices. Entries that cannot be parsed
// are skipped.
func ScanDevices(fsys fs.FS) ([]DeviceInfo, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "read sysfs usb devices")
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Root hubs are "usbN"; interfaces are "<device>:<config>.<iface>".
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		info, err := parseDevice(fsys, name)
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// FindMassStorage returns the devices exposing at least one Bulk-Only
// mass storage interface.
func FindMassStorage(fsys fs.FS) ([]DeviceInfo, error) {
	devices, err := ScanDevices(fsys)
	if err != nil {
		return nil, err
	}

	var found []DeviceInfo
	for _, dev := range devices {
		if len(dev.MassStorageInterfaces()) > 0 {
			found = append(found, dev)
		}
	}
	return found, nil
}

func parseDevice(fsys fs.FS, name string) (DeviceInfo, error) {
	info := DeviceInfo{Name: name}

	busNum, err := readUint8(fsys, path.Join(name, "busnum"), 10)
	if err != nil {
		return info, err
	}
	devNum, err := readUint8(fsys, path.Join(name, "devnum"), 10)
	if err != nil {
		return info, err
	}
	info.BusNum = busNum
	info.DevNum = devNum
	info.DevfsPath = DevfsPath(busNum, devNum)

	if v, err := readUint(fsys, path.Join(name, "idVendor"), 16, 16); err == nil {
		info.VendorID = uint16(v)
	}
	if v, err := readUint(fsys, path.Join(name, "idProduct"), 16, 16); err == nil {
		info.ProductID = uint16(v)
	}
	info.Manufacturer, _ = readString(fsys, path.Join(name, "manufacturer"))
	info.Product, _ = readString(fsys, path.Join(name, "product"))
	info.Serial, _ = readString(fsys, path.Join(name, "serial"))
	if s, err := readString(fsys, path.Join(name, "speed")); err == nil {
		info.Speed = parseSpeed(s)
	}

	info.Interfaces = scanInterfaces(fsys, name)
	return info, nil
}

func scanInterfaces(fsys fs.FS, device string) []InterfaceInfo {
	entries, err := fs.ReadDir(fsys, device)
	if err != nil {
		return nil
	}

	var interfaces []InterfaceInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, device+":") {
			continue
		}
		iface, err := parseInterface(fsys, path.Join(device, name))
		if err != nil {
			continue
		}
		interfaces = append(interfaces, iface)
	}
	return interfaces
}

func parseInterface(fsys fs.FS, dir string) (InterfaceInfo, error) {
	var info InterfaceInfo

	num, err := readUint8(fsys, path.Join(dir, "bInterfaceNumber"), 16)
	if err != nil {
		return info, err
	}
	info.Number = num
	info.Class, _ = readUint8(fsys, path.Join(dir, "bInterfaceClass"), 16)
	info.SubClass, _ = readUint8(fsys, path.Join(dir, "bInterfaceSubClass"), 16)
	info.Protocol, _ = readUint8(fsys, path.Join(dir, "bInterfaceProtocol"), 16)

	// driver -> ../../../../bus/usb/drivers/<name>
	if target, err := fs.ReadLink(fsys, path.Join(dir, "driver")); err == nil {
		info.Driver = path.Base(target)
	}
	return info, nil
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

func readString(fsys fs.FS, name string) (string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint(fsys fs.FS, name string, base, bitSize int) (uint64, error) {
	s, err := readString(fsys, name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, base, bitSize)
}

func readUint8(fsys fs.FS, name string, base int) (uint8, error) {
	v, err := readUint(fsys, name, base, 8)
	return uint8(v), err
}

// DevfsPath returns the usbfs node for a bus and device number.
func DevfsPath(busNum, devNum uint8) string {
	return fmt.Sprintf("%s/%03d/%03d", DevfsUSBPath, busNum, devNum)
}

// parseSpeed converts a sysfs speed string (Mbit/s) to a hal.Speed value.
func parseSpeed(s string) hal.Speed {
	switch s {
	case "1.5":
		return hal.SpeedLow
	case "12":
		return hal.SpeedFull
	case "480":
		return hal.SpeedHigh
	case "5000", "10000", "20000":
		return hal.SpeedSuper
	default:
		return hal.SpeedUnknown
	}
}
