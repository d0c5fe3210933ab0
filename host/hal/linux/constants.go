package linux

// =============================================================================
// Limits
// =============================================================================

// MaxInterfacesPerDevice is the maximum number of interfaces per device.
const MaxInterfacesPerDevice = 32

// DefaultTransferTimeout is the usbfs transfer timeout in milliseconds used
// when neither the HAL nor the caller's context sets one.
const DefaultTransferTimeout = 5000

// =============================================================================
// System Paths
// =============================================================================

// SysfsUSBPath is the base path for USB devices in sysfs.
const SysfsUSBPath = "/sys/bus/usb/devices"

// DevfsUSBPath is the base path for USB device nodes.
const DevfsUSBPath = "/dev/bus/usb"

// =============================================================================
// Class Codes
// =============================================================================

// USBClassMassStorage is the USB mass storage interface class code.
const USBClassMassStorage = 0x08

// Mass storage subclass and protocol codes.
const (
	MSCSubclassSCSI = 0x06 // SCSI transparent command set
	MSCProtocolBOT  = 0x50 // Bulk-Only Transport
)
