//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import "unsafe"

// ioctl encoding shared by the asm-generic architectures:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// usbdevfs ioctl type character.
const usbdevfsType = 'U'

// usbdevfs ioctl command numbers.
const (
	nrControl          = 0
	nrBulk             = 2
	nrClaimInterface   = 15
	nrReleaseInterface = 16
	nrClearHalt        = 21
	nrDisconnect       = 22
	nrConnect          = 23
)

// USBDEVFS_IOCTL argument, used to reach the driver-level disconnect and
// connect requests.
type usbdevfsIoctl struct {
	ifno      int32
	ioctlCode int32
	data      uintptr
}

// Struct sizes follow the pointer width of the build target, so the same
// encoding serves 32- and 64-bit kernels.
var (
	ioctlControl          = ioc(iocRead|iocWrite, usbdevfsType, nrControl, unsafe.Sizeof(ctrlTransfer{}))
	ioctlBulk             = ioc(iocRead|iocWrite, usbdevfsType, nrBulk, unsafe.Sizeof(bulkTransfer{}))
	ioctlClaimInterface   = ioc(iocRead, usbdevfsType, nrClaimInterface, 4)
	ioctlReleaseInterface = ioc(iocRead, usbdevfsType, nrReleaseInterface, 4)
	ioctlClearHalt        = ioc(iocRead, usbdevfsType, nrClearHalt, 4)
	ioctlDisconnect       = ioc(iocNone, usbdevfsType, nrDisconnect, 0)
	ioctlConnect          = ioc(iocNone, usbdevfsType, nrConnect, 0)
	ioctlIoctl            = ioc(iocRead|iocWrite, usbdevfsType, 18, unsafe.Sizeof(usbdevfsIoctl{}))
)
