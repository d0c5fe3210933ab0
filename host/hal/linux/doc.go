// Package linux provides a USB host HAL implementation for Linux using usbfs.
//
// The HAL binds to a single device node under /dev/bus/usb/ and performs
// synchronous control and bulk transfers with the USBDEVFS_CONTROL and
// USBDEVFS_BULK ioctls. The host transfer manager turns those into
// asynchronous completions. No cgo is involved.
//
// # Requirements
//
// The user running the application must have read/write access to the
// device node, either as root or through a udev rule.
//
// # Interfaces
//
// ClaimInterface detaches the kernel driver (usually usb-storage) before
// claiming; ReleaseInterface and Close rebind it.
//
// # Discovery
//
// [ScanDevices] and [FindMassStorage] read sysfs through an [io/fs.FS],
// normally os.DirFS(SysfsUSBPath), and report the device nodes of attached
// Bulk-Only mass storage devices.
package linux
