package host

import (
	"context"
	baseerrors "errors"
	"sync"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

// DefaultWorkers is the number of transfer workers a Host runs unless told
// otherwise. One worker keeps completions in submission order.
const DefaultWorkers = 1

// Host owns a HAL, its transfer manager and the one device opened on it.
type Host struct {
	hal       hal.HostHAL
	transfers *TransferManager

	device *Device

	// State
	running bool
	mutex   sync.RWMutex

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new USB host running the given number of transfer
// workers. A value below one selects DefaultWorkers.
func New(h hal.HostHAL, workers int) *Host {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Host{
		hal:       h,
		transfers: NewTransferManager(h, workers),
	}
}

// Start initializes the HAL and starts the transfer workers.
func (h *Host) Start(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.running {
		return pkg.ErrAlreadyRunning
	}

	h.ctx, h.cancel = context.WithCancel(ctx)

	if err := h.hal.Init(h.ctx); err != nil {
		h.cancel()
		return errors.Wrap(err, "init hal")
	}
	if err := h.transfers.Start(h.ctx); err != nil {
		h.cancel()
		return errors.Wrap(err, "start transfer manager")
	}

	h.running = true
	pkg.LogInfo(pkg.ComponentHost, "host started")
	return nil
}

// Stop closes the open device, stops the transfer workers and closes the
// HAL.
func (h *Host) Stop() error {
	h.mutex.Lock()
	if !h.running {
		h.mutex.Unlock()
		return nil
	}
	h.running = false
	dev := h.device
	h.device = nil
	h.mutex.Unlock()

	var errs []error
	if dev != nil {
		if err := dev.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.transfers.Stop(); err != nil {
		errs = append(errs, err)
	}
	h.cancel()
	if err := h.hal.Close(); err != nil {
		errs = append(errs, err)
	}

	pkg.LogInfo(pkg.ComponentHost, "host stopped")
	return baseerrors.Join(errs...)
}

// IsRunning returns true if the host is running.
func (h *Host) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// Open reads the descriptors of the device at address and makes it the
// host's device. Only one device can be open at a time.
func (h *Host) Open(ctx context.Context, address uint8) (*Device, error) {
	h.mutex.Lock()
	if !h.running {
		h.mutex.Unlock()
		return nil, pkg.ErrNotRunning
	}
	if h.device != nil {
		h.mutex.Unlock()
		return nil, pkg.ErrBusy
	}
	dev := newDevice(h, address)
	h.device = dev
	h.mutex.Unlock()

	if err := dev.ReadDescriptors(ctx); err != nil {
		h.mutex.Lock()
		h.device = nil
		h.mutex.Unlock()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentHost, "device opened",
		"address", address,
		"vendor", dev.VendorID(),
		"product", dev.ProductID())
	return dev, nil
}

// Device returns the open device, or nil.
func (h *Host) Device() *Device {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.device
}

// Transfers returns the host's transfer manager.
func (h *Host) Transfers() *TransferManager {
	return h.transfers
}
