//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	baseerrors "errors"
	"syscall"
	"unsafe"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// =============================================================================
// usbfs Argument Structures
// =============================================================================

// ctrlTransfer must match the kernel's struct usbdevfs_ctrltransfer layout.
type ctrlTransfer struct {
	requestType uint8   // bmRequestType
	request     uint8   // bRequest
	value       uint16  // wValue
	index       uint16  // wIndex
	length      uint16  // wLength
	timeout     uint32  // Timeout in milliseconds
	data        uintptr // Data buffer pointer
}

// bulkTransfer must match the kernel's struct usbdevfs_bulktransfer layout.
type bulkTransfer struct {
	endpoint uint32  // Endpoint address
	length   uint32  // Data length
	timeout  uint32  // Timeout in milliseconds
	data     uintptr // Data buffer pointer
}

// =============================================================================
// Raw Syscall Wrappers
// =============================================================================

func openDevice(path string) (int, error) {
	return syscall.Open(path, syscall.O_RDWR|syscall.O_CLOEXEC, 0)
}

func closeDevice(fd int) error {
	return syscall.Close(fd)
}

func ioctlRetval(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

// =============================================================================
// USBDEVFS Operations
// =============================================================================

func doControlTransfer(fd int, reqType, req uint8, value, index uint16, data []byte, timeout uint32) (int, error) {
	ctrl := ctrlTransfer{
		requestType: reqType,
		request:     req,
		value:       value,
		index:       index,
		length:      uint16(len(data)),
		timeout:     timeout,
	}
	if len(data) > 0 {
		ctrl.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctlRetval(fd, ioctlControl, unsafe.Pointer(&ctrl))
}

func doBulkTransfer(fd int, endpoint uint8, data []byte, timeout uint32) (int, error) {
	bulk := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  timeout,
	}
	if len(data) > 0 {
		bulk.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctlRetval(fd, ioctlBulk, unsafe.Pointer(&bulk))
}

func claimInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctlRetval(fd, ioctlClaimInterface, unsafe.Pointer(&n))
	return err
}

func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctlRetval(fd, ioctlReleaseInterface, unsafe.Pointer(&n))
	return err
}

// clearHalt clears an endpoint halt through the kernel, which also resets
// the host-side data toggle.
func clearHalt(fd int, endpoint uint8) error {
	ep := uint32(endpoint)
	_, err := ioctlRetval(fd, ioctlClearHalt, unsafe.Pointer(&ep))
	return err
}

// disconnectDriver detaches the kernel driver bound to an interface.
func disconnectDriver(fd int, iface uint8) error {
	cmd := usbdevfsIoctl{ifno: int32(iface), ioctlCode: int32(ioctlDisconnect)}
	_, err := ioctlRetval(fd, ioctlIoctl, unsafe.Pointer(&cmd))
	return err
}

// connectDriver lets the kernel rebind its driver to an interface.
func connectDriver(fd int, iface uint8) error {
	cmd := usbdevfsIoctl{ifno: int32(iface), ioctlCode: int32(ioctlConnect)}
	_, err := ioctlRetval(fd, ioctlIoctl, unsafe.Pointer(&cmd))
	return err
}

// =============================================================================
// Error Mapping
// =============================================================================

// mapErrno converts a usbfs errno into the host stack's sentinel errors.
func mapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !baseerrors.As(err, &errno) {
		return errors.Wrap(err, op)
	}
	switch errno {
	case syscall.EPIPE:
		return errors.Wrapf(pkg.ErrStall, "%s: %v", op, errno)
	case syscall.ETIMEDOUT:
		return errors.Wrapf(pkg.ErrTimeout, "%s: %v", op, errno)
	case syscall.ENODEV, syscall.ESHUTDOWN:
		return errors.Wrapf(pkg.ErrNoDevice, "%s: %v", op, errno)
	case syscall.EBUSY:
		return errors.Wrapf(pkg.ErrBusy, "%s: %v", op, errno)
	case syscall.EOVERFLOW:
		return errors.Wrapf(pkg.ErrOverrun, "%s: %v", op, errno)
	case syscall.ENOENT, syscall.ECONNRESET:
		return errors.Wrapf(pkg.ErrCancelled, "%s: %v", op, errno)
	case syscall.EPROTO, syscall.EILSEQ:
		return errors.Wrapf(pkg.ErrProtocol, "%s: %v", op, errno)
	default:
		return errors.Wrapf(err, "%s", op)
	}
}
