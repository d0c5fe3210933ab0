//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	"context"
	baseerrors "errors"
	"sync"
	"syscall"
	"time"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

// =============================================================================
// HostHAL Implementation
// =============================================================================

// HostHAL implements the hal.HostHAL interface for one Linux usbfs device
// node such as /dev/bus/usb/001/004.
type HostHAL struct {
	path string
	fd   int

	// Interfaces claimed through this HAL, and those whose kernel driver
	// was detached and must be rebound on release.
	claimed  uint32
	detached uint32

	// State
	open bool
	mu   sync.RWMutex

	// Transfer timeout in milliseconds
	transferTimeout uint32
}

var _ hal.HostHAL = (*HostHAL)(nil)

// NewHostHAL creates a HAL for the usbfs device node at path.
func NewHostHAL(path string) *HostHAL {
	return &HostHAL{
		path:            path,
		fd:              -1,
		transferTimeout: DefaultTransferTimeout,
	}
}

// SetTransferTimeout sets the timeout for USB transfers in milliseconds.
// Zero lets the kernel wait indefinitely.
func (h *HostHAL) SetTransferTimeout(ms uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transferTimeout = ms
}

// Path returns the device node path.
func (h *HostHAL) Path() string {
	return h.path
}

// =============================================================================
// Lifecycle Methods
// =============================================================================

// Init opens the device node.
func (h *HostHAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.open {
		return pkg.ErrAlreadyRunning
	}
	fd, err := openDevice(h.path)
	if err != nil {
		if baseerrors.Is(err, syscall.ENOENT) {
			return errors.Wrapf(pkg.ErrNoDevice, "open %s", h.path)
		}
		return errors.Wrapf(err, "open %s", h.path)
	}
	h.fd = fd
	h.open = true

	pkg.LogDebug(pkg.ComponentHAL, "usbfs device opened", "path", h.path)
	return nil
}

// Close releases claimed interfaces, rebinds detached kernel drivers and
// closes the device node.
func (h *HostHAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open {
		return nil
	}

	var errs []error
	for iface := uint8(0); iface < MaxInterfacesPerDevice; iface++ {
		if h.claimed&(1<<iface) != 0 {
			if err := h.releaseLocked(iface); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := closeDevice(h.fd); err != nil {
		errs = append(errs, errors.Wrapf(err, "close %s", h.path))
	}
	h.fd = -1
	h.open = false

	pkg.LogDebug(pkg.ComponentHAL, "usbfs device closed", "path", h.path)
	return baseerrors.Join(errs...)
}

// timeoutFor bounds the HAL timeout by the context deadline.
func (h *HostHAL) timeoutFor(ctx context.Context) uint32 {
	timeout := h.transferTimeout
	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			ms = 1
		}
		if timeout == 0 || uint32(ms) < timeout {
			timeout = uint32(ms)
		}
	}
	return timeout
}

func (h *HostHAL) acquire(ctx context.Context) (int, uint32, error) {
	if err := ctx.Err(); err != nil {
		return -1, 0, errors.Wrap(pkg.ErrCancelled, err.Error())
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.open {
		return -1, 0, pkg.ErrNoDevice
	}
	return h.fd, h.timeoutFor(ctx), nil
}

// =============================================================================
// Transfers
// =============================================================================

// ControlTransfer performs a control transfer on endpoint 0.
//
// CLEAR_FEATURE(ENDPOINT_HALT) is routed through USBDEVFS_CLEARHALT so the
// kernel resets its data toggle along with the device's.
func (h *HostHAL) ControlTransfer(ctx context.Context, addr hal.DeviceAddress, setup *hal.SetupPacket, data []byte) (int, error) {
	fd, timeout, err := h.acquire(ctx)
	if err != nil {
		return 0, err
	}

	if setup.RequestType == 0x02 && setup.Request == 0x01 && setup.Value == 0 {
		return 0, mapErrno("clear halt", clearHalt(fd, uint8(setup.Index)))
	}

	n, err := doControlTransfer(fd,
		setup.RequestType,
		setup.Request,
		setup.Value,
		setup.Index,
		data,
		timeout,
	)
	if err != nil {
		return 0, mapErrno("control transfer", err)
	}
	return n, nil
}

// BulkTransfer performs a bulk transfer to/from an endpoint.
func (h *HostHAL) BulkTransfer(ctx context.Context, addr hal.DeviceAddress, endpoint uint8, data []byte) (int, error) {
	fd, timeout, err := h.acquire(ctx)
	if err != nil {
		return 0, err
	}

	n, err := doBulkTransfer(fd, endpoint, data, timeout)
	if err != nil {
		return 0, mapErrno("bulk transfer", err)
	}
	return n, nil
}

// =============================================================================
// Interface Management
// =============================================================================

// ClaimInterface detaches any kernel driver from the interface and claims it.
func (h *HostHAL) ClaimInterface(addr hal.DeviceAddress, iface uint8) error {
	if iface >= MaxInterfacesPerDevice {
		return pkg.ErrInvalidParameter
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open {
		return pkg.ErrNoDevice
	}
	mask := uint32(1) << iface
	if h.claimed&mask != 0 {
		return nil
	}

	// ENODATA means no driver was bound.
	if err := disconnectDriver(h.fd, iface); err == nil {
		h.detached |= mask
		pkg.LogInfo(pkg.ComponentHAL, "kernel driver detached", "path", h.path, "interface", iface)
	} else if !baseerrors.Is(err, syscall.ENODATA) {
		pkg.LogDebug(pkg.ComponentHAL, "driver detach failed", "interface", iface, "error", err)
	}

	if err := claimInterface(h.fd, iface); err != nil {
		return mapErrno("claim interface", err)
	}
	h.claimed |= mask
	return nil
}

// ReleaseInterface releases a claimed interface and rebinds the kernel
// driver if ClaimInterface detached one.
func (h *HostHAL) ReleaseInterface(addr hal.DeviceAddress, iface uint8) error {
	if iface >= MaxInterfacesPerDevice {
		return pkg.ErrInvalidParameter
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open {
		return pkg.ErrNoDevice
	}
	if h.claimed&(1<<iface) == 0 {
		return nil
	}
	return h.releaseLocked(iface)
}

func (h *HostHAL) releaseLocked(iface uint8) error {
	mask := uint32(1) << iface
	if err := releaseInterface(h.fd, iface); err != nil {
		return mapErrno("release interface", err)
	}
	h.claimed &^= mask

	if h.detached&mask != 0 {
		h.detached &^= mask
		if err := connectDriver(h.fd, iface); err != nil {
			return mapErrno("reattach driver", err)
		}
	}
	return nil
}
