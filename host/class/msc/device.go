package msc

import (
	"context"
	baseerrors "errors"
	"sync"

	"github.com/efficientgo/core/errors"
	"golang.org/x/sync/semaphore"

	"github.com/ardnew/softmsc/host"
	"github.com/ardnew/softmsc/pkg"
)

// Host is the transfer and interface surface a Device drives.
// *host.Device implements it.
type Host interface {
	Submit(t *host.Transfer) error
	AllocTransfer(size int) (*host.Transfer, error)
	FreeTransfer(t *host.Transfer) error
	ClaimInterface(iface uint8) error
	ReleaseInterface(iface uint8) error
	ClearEndpointHalt(ctx context.Context, endpoint uint8) error
}

// Mounter attaches a filesystem to a logical unit.
type Mounter interface {
	Mount(path string, dev *BlockDevice) error
	Unmount(path string, lun uint8) error
}

// Callbacks are optional hooks. CommandEcho, Status, Data, MaxLUNs,
// Inquiry and Capacity run on the transfer completion goroutine and must
// not block or issue commands. Capacity fires once per capacity sweep,
// when the last LUN's READ CAPACITY (10) completes. Ready runs on the
// goroutine that called Discover.
type Callbacks struct {
	MaxLUNs     func(count int)
	Inquiry     func(data InquiryData)
	Capacity    func(lun uint8, c Capacity)
	CommandEcho func(ev Event)
	Status      func(ev Event)
	Data        func(ev Event)
	Ready       func()
}

// slot indexes the device's transfer pool.
type slot int

const (
	slotControl slot = iota
	slotStatus
	slotCommand
	slotRead
	slotWrite
	numSlots
)

// Device is a Bulk-Only Transport mass-storage device.
//
// Commands are serialized: a command started while another one is pending
// fails with pkg.ErrBusy.
type Device struct {
	host Host
	opts Options

	// Interface and endpoints
	iface       uint8
	epIn        uint8
	epOut       uint8
	inMaxPacket uint16

	// Transfer pool; nil until Init
	slots [numSlots]*host.Transfer

	mu         sync.Mutex
	state      state
	waiter     *waiter
	pendingErr error // data phase failure reported with the status
	nextTag    uint32
	lunCount   int
	capacity   []Capacity
	inquiry    InquiryData
	callbacks  Callbacks
	mounter    Mounter

	// Serializes BlockDevice access
	sem *semaphore.Weighted
}

// New finds the mass-storage interface in a configuration descriptor,
// checks that it has exactly one bulk IN and one bulk OUT endpoint, and
// claims it.
func New(config []byte, h Host, opts Options) (*Device, error) {
	if h == nil {
		return nil, errors.Wrap(pkg.ErrInvalidParameter, "nil host")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cfg, err := host.ParseConfiguration(config)
	if err != nil {
		return nil, baseerrors.Join(ErrInvalidDescriptor, err)
	}
	ifaces := cfg.FindInterfaces(ClassMSC)
	if len(ifaces) == 0 {
		return nil, errors.Wrap(ErrInvalidDescriptor, "no mass storage interface")
	}
	iface := ifaces[0]

	d := &Device{
		host:    h,
		opts:    opts,
		iface:   iface.InterfaceNumber,
		nextTag: opts.TagSeed,
		sem:     semaphore.NewWeighted(1),
	}
	if d.nextTag == 0 {
		d.nextTag = 1
	}

	var in, out, bulk int
	for i := range iface.Endpoints {
		ep := &iface.Endpoints[i]
		if !ep.IsBulk() {
			continue
		}
		bulk++
		if ep.IsIn() {
			in++
			d.epIn = ep.EndpointAddress
			d.inMaxPacket = ep.MaxPacketSize
		} else {
			out++
			d.epOut = ep.EndpointAddress
		}
	}
	if bulk != 2 || in != 1 || out != 1 {
		return nil, errors.Wrapf(ErrInvalidDescriptor,
			"interface %d has %d bulk endpoints (%d IN, %d OUT)", d.iface, bulk, in, out)
	}

	if iface.InterfaceSubClass != SubclassSCSI || iface.InterfaceProtocol != ProtocolBulkOnly {
		pkg.LogWarn(pkg.ComponentMSC, "interface is not SCSI/Bulk-Only, trying anyway",
			"interface", d.iface,
			"subclass", iface.InterfaceSubClass,
			"protocol", iface.InterfaceProtocol)
	}

	if err := h.ClaimInterface(d.iface); err != nil {
		return nil, errors.Wrapf(err, "claim interface %d", d.iface)
	}

	pkg.LogInfo(pkg.ComponentMSC, "mass storage interface claimed",
		"interface", d.iface,
		"in", d.epIn,
		"out", d.epOut,
		"max_packet", d.inMaxPacket)
	return d, nil
}

// Init allocates the transfer pool and runs discovery.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	if d.slots[slotCommand] != nil {
		d.mu.Unlock()
		return errors.Wrap(pkg.ErrAlreadyRunning, "device already initialized")
	}
	d.mu.Unlock()

	var slots [numSlots]*host.Transfer
	for i := range slots {
		t, err := d.host.AllocTransfer(d.opts.BufferSize)
		if err != nil {
			for _, a := range slots[:i] {
				_ = d.host.FreeTransfer(a)
			}
			return errors.Wrap(err, "allocate transfer pool")
		}
		t.Callback = d.onComplete
		slots[i] = t
	}

	d.mu.Lock()
	d.slots = slots
	d.mu.Unlock()

	return d.Discover(ctx)
}

// Close releases the interface and frees every transfer. A caller still
// waiting on a command is woken with pkg.ErrNoDevice.
func (d *Device) Close() error {
	d.mu.Lock()
	slots := d.slots
	d.slots = [numSlots]*host.Transfer{}
	w := d.waiter
	d.waiter = nil
	d.state = state{}
	d.mu.Unlock()

	if w != nil {
		w.done <- pkg.ErrNoDevice
	}

	var errs []error
	for _, t := range slots {
		if t == nil {
			continue
		}
		if err := d.host.FreeTransfer(t); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.host.ReleaseInterface(d.iface); err != nil {
		errs = append(errs, err)
	}
	return baseerrors.Join(errs...)
}

// Interface returns the claimed interface number.
func (d *Device) Interface() uint8 {
	return d.iface
}

// Endpoints returns the bulk IN and OUT endpoint addresses.
func (d *Device) Endpoints() (in, out uint8) {
	return d.epIn, d.epOut
}

// RegisterCallbacks replaces the device's hooks.
func (d *Device) RegisterCallbacks(cb Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = cb
}

// SetMounter sets the filesystem collaborator used by Mount and Unmount.
func (d *Device) SetMounter(m Mounter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mounter = m
}

// LUNCount returns the number of logical units found by discovery.
func (d *Device) LUNCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lunCount
}

// Capacity returns the capacity entry of a LUN.
func (d *Device) Capacity(lun uint8) (Capacity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(lun) >= d.lunCount {
		return Capacity{}, errors.Wrapf(ErrInvalidLUN, "LUN %d of %d", lun, d.lunCount)
	}
	return d.capacity[lun], nil
}

// BlockCount returns the block count reported for a LUN, or 0 if the LUN
// is unknown.
func (d *Device) BlockCount(lun uint8) uint32 {
	c, _ := d.Capacity(lun)
	return c.BlockCount
}

// BlockSize returns the block size reported for a LUN, or 0 if the LUN is
// unknown or was not discovered.
func (d *Device) BlockSize(lun uint8) uint32 {
	c, _ := d.Capacity(lun)
	return c.BlockSize
}

// InquiryData returns the identification read by the last INQUIRY.
func (d *Device) InquiryData() InquiryData {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inquiry
}

// Mount hands a LUN to the filesystem collaborator. ctx bounds every
// command the mounted BlockDevice issues.
func (d *Device) Mount(ctx context.Context, path string, lun uint8) error {
	m, err := d.mounterFor(lun)
	if err != nil {
		return err
	}
	bd, err := d.BlockDevice(ctx, lun)
	if err != nil {
		return err
	}
	return m.Mount(path, bd)
}

// Unmount detaches the filesystem mounted at path.
func (d *Device) Unmount(path string, lun uint8) error {
	m, err := d.mounterFor(lun)
	if err != nil {
		return err
	}
	return m.Unmount(path, lun)
}

func (d *Device) mounterFor(lun uint8) (Mounter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(lun) >= d.lunCount {
		return nil, errors.Wrapf(ErrInvalidLUN, "LUN %d of %d", lun, d.lunCount)
	}
	if d.mounter == nil {
		return nil, errors.Wrap(pkg.ErrNotSupported, "no mounter")
	}
	return d.mounter, nil
}

// storeCapacity records a READ CAPACITY (10) payload for lun. Callers hold
// d.mu.
func (d *Device) storeCapacity(lun uint8, data []byte) (Capacity, bool) {
	c, err := ParseCapacity(data)
	if err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "short capacity data", "lun", lun, "error", err)
		return Capacity{}, false
	}
	if int(lun) >= len(d.capacity) {
		return Capacity{}, false
	}
	d.capacity[lun] = c
	return c, true
}
