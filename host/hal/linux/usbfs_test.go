//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
	"unsafe"

	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

func TestIoctlNumbers64(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("64-bit layout")
	}

	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"USBDEVFS_CONTROL", ioctlControl, 0xC0185500},
		{"USBDEVFS_BULK", ioctlBulk, 0xC0185502},
		{"USBDEVFS_CLAIMINTERFACE", ioctlClaimInterface, 0x8004550F},
		{"USBDEVFS_RELEASEINTERFACE", ioctlReleaseInterface, 0x80045510},
		{"USBDEVFS_IOCTL", ioctlIoctl, 0xC0105512},
		{"USBDEVFS_CLEAR_HALT", ioctlClearHalt, 0x80045515},
		{"USBDEVFS_DISCONNECT", ioctlDisconnect, 0x00005516},
		{"USBDEVFS_CONNECT", ioctlConnect, 0x00005517},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = 0x%08X, want 0x%08X", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestStructSizes(t *testing.T) {
	ptr := unsafe.Sizeof(uintptr(0))
	wantCtrl := uintptr(16)
	if ptr == 8 {
		wantCtrl = 24
	}
	if got := unsafe.Sizeof(ctrlTransfer{}); got != wantCtrl {
		t.Errorf("sizeof(ctrlTransfer) = %d, want %d", got, wantCtrl)
	}
	if got := unsafe.Sizeof(bulkTransfer{}); got != wantCtrl {
		t.Errorf("sizeof(bulkTransfer) = %d, want %d", got, wantCtrl)
	}
}

func TestMapErrno(t *testing.T) {
	tests := []struct {
		errno syscall.Errno
		want  error
	}{
		{syscall.EPIPE, pkg.ErrStall},
		{syscall.ETIMEDOUT, pkg.ErrTimeout},
		{syscall.ENODEV, pkg.ErrNoDevice},
		{syscall.ESHUTDOWN, pkg.ErrNoDevice},
		{syscall.EBUSY, pkg.ErrBusy},
		{syscall.EOVERFLOW, pkg.ErrOverrun},
		{syscall.ENOENT, pkg.ErrCancelled},
		{syscall.EPROTO, pkg.ErrProtocol},
		{syscall.EACCES, syscall.EACCES},
	}

	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			if err := mapErrno("bulk transfer", tt.errno); !errors.Is(err, tt.want) {
				t.Errorf("mapErrno(%v) = %v, want %v", tt.errno, err, tt.want)
			}
		})
	}

	if err := mapErrno("op", nil); err != nil {
		t.Errorf("mapErrno(nil) = %v, want nil", err)
	}
}

func TestHostHAL_NotOpen(t *testing.T) {
	h := NewHostHAL("/dev/bus/usb/999/999")
	ctx := context.Background()

	if _, err := h.BulkTransfer(ctx, 1, 0x81, make([]byte, 13)); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("BulkTransfer() error = %v, want ErrNoDevice", err)
	}
	if _, err := h.ControlTransfer(ctx, 1, &hal.SetupPacket{}, nil); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("ControlTransfer() error = %v, want ErrNoDevice", err)
	}
	if err := h.ClaimInterface(1, 0); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("ClaimInterface() error = %v, want ErrNoDevice", err)
	}
	if err := h.ClaimInterface(1, MaxInterfacesPerDevice); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ClaimInterface(out of range) error = %v, want ErrInvalidParameter", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() on unopened HAL error = %v", err)
	}
}

func TestHostHAL_InitMissingNode(t *testing.T) {
	h := NewHostHAL("/dev/bus/usb/999/999")
	if err := h.Init(context.Background()); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Init() error = %v, want ErrNoDevice", err)
	}
}

func TestHostHAL_TimeoutFor(t *testing.T) {
	h := NewHostHAL("unused")

	if got := h.timeoutFor(context.Background()); got != DefaultTransferTimeout {
		t.Errorf("timeoutFor(no deadline) = %d, want %d", got, DefaultTransferTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if got := h.timeoutFor(ctx); got == 0 || got > 200 {
		t.Errorf("timeoutFor(200ms deadline) = %d, want 1..200", got)
	}

	h.SetTransferTimeout(0)
	if got := h.timeoutFor(ctx); got == 0 || got > 200 {
		t.Errorf("timeoutFor(no HAL timeout, 200ms deadline) = %d, want 1..200", got)
	}
}
