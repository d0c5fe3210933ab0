package host

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/efficientgo/core/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

// MaxTransfers bounds the number of transfers a manager hands out.
const MaxTransfers = 32

// Transfer represents a USB transfer request.
//
// A transfer is a reusable slot: it is allocated once, submitted any number
// of times, and freed when its owner is done with it. It may not be
// resubmitted while a previous submission is still in flight, including
// from inside its own Callback.
type Transfer struct {
	// Device address
	Address uint8

	// Endpoint address (0x00-0x0F for OUT, 0x80-0x8F for IN)
	Endpoint uint8

	// Transfer type
	Type hal.TransferType

	// Data buffer. Control transfers reserve the first 8 bytes for the
	// setup packet; the data stage follows it.
	Data []byte

	// Length is the number of bytes of Data a bulk transfer moves.
	// Zero submits a zero-length packet.
	Length int

	// Setup packet (for control transfers only)
	Setup *hal.SetupPacket

	// Callback when transfer completes. For control transfers n counts
	// the setup packet, so n = 8 + data stage length.
	Callback func(t *Transfer, n int, err error)

	// Context for cancellation
	Context context.Context

	// UserData is carried unchanged from submission to completion.
	UserData any

	// Internal state
	id       uint64
	inFlight int32
	freed    int32
	result   int
	err      error
}

// InFlight returns true if the transfer was submitted and its callback
// has not returned yet.
func (t *Transfer) InFlight() bool {
	return atomic.LoadInt32(&t.inFlight) != 0
}

// Result returns the result of the last completed submission.
func (t *Transfer) Result() (int, error) {
	return t.result, t.err
}

// ID returns the identifier of the last submission.
func (t *Transfer) ID() uint64 {
	return atomic.LoadUint64(&t.id)
}

// TransferManager turns blocking HAL transfers into asynchronous
// completions.
//
// Transfers execute in submission order when the manager runs a single
// worker. Bulk-Only Transport depends on that ordering, so class drivers
// should keep the default of one worker per device.
type TransferManager struct {
	hal hal.HostHAL

	// Pending transfers (by ID)
	pending   map[uint64]*Transfer
	pendingMu sync.RWMutex

	// Allocated transfers
	allocated   map[*Transfer]struct{}
	allocatedMu sync.Mutex

	// Next transfer ID
	nextID uint64

	// Worker pool
	workers int
	jobs    chan *Transfer
	group   *errgroup.Group

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopMu  sync.Mutex
}

// NewTransferManager creates a new transfer manager.
func NewTransferManager(h hal.HostHAL, workers int) *TransferManager {
	if workers < 1 {
		workers = 1
	}
	return &TransferManager{
		hal:       h,
		pending:   make(map[uint64]*Transfer),
		allocated: make(map[*Transfer]struct{}),
		workers:   workers,
		jobs:      make(chan *Transfer, MaxTransfers),
	}
}

// Start starts the transfer workers.
func (tm *TransferManager) Start(ctx context.Context) error {
	tm.stopMu.Lock()
	defer tm.stopMu.Unlock()

	if tm.running.Load() {
		return pkg.ErrAlreadyRunning
	}

	tm.ctx, tm.cancel = context.WithCancel(ctx)
	tm.group, _ = errgroup.WithContext(tm.ctx)

	for i := 0; i < tm.workers; i++ {
		id := i
		tm.group.Go(func() error {
			tm.worker(id)
			return nil
		})
	}

	tm.running.Store(true)
	return nil
}

// Stop stops the workers. Transfers still queued complete with
// pkg.ErrCancelled.
func (tm *TransferManager) Stop() error {
	tm.stopMu.Lock()
	defer tm.stopMu.Unlock()

	if !tm.running.Swap(false) {
		return nil
	}
	tm.cancel()
	err := tm.group.Wait()

	for {
		select {
		case t := <-tm.jobs:
			tm.complete(t, 0, pkg.ErrCancelled)
		default:
			return err
		}
	}
}

// IsRunning returns true if the workers are running.
func (tm *TransferManager) IsRunning() bool {
	return tm.running.Load()
}

// Alloc allocates a transfer with a data buffer of the given size.
func (tm *TransferManager) Alloc(size int) (*Transfer, error) {
	if size < 0 {
		return nil, pkg.ErrInvalidParameter
	}

	tm.allocatedMu.Lock()
	defer tm.allocatedMu.Unlock()

	if len(tm.allocated) >= MaxTransfers {
		return nil, pkg.ErrNoResources
	}
	t := &Transfer{Data: make([]byte, size)}
	tm.allocated[t] = struct{}{}
	return t, nil
}

// Free returns a transfer to the manager. A transfer still in flight
// cannot be freed.
func (tm *TransferManager) Free(t *Transfer) error {
	if t == nil {
		return nil
	}
	if t.InFlight() {
		return pkg.ErrBusy
	}

	tm.allocatedMu.Lock()
	defer tm.allocatedMu.Unlock()

	if _, ok := tm.allocated[t]; !ok {
		return pkg.ErrInvalidParameter
	}
	delete(tm.allocated, t)
	atomic.StoreInt32(&t.freed, 1)
	return nil
}

// Allocated returns the number of transfers currently allocated.
func (tm *TransferManager) Allocated() int {
	tm.allocatedMu.Lock()
	defer tm.allocatedMu.Unlock()
	return len(tm.allocated)
}

// Submit queues a transfer for execution and returns its ID.
// It returns pkg.ErrBusy if the transfer is still in flight.
func (tm *TransferManager) Submit(t *Transfer) (uint64, error) {
	if !tm.running.Load() || tm.ctx.Err() != nil {
		return 0, pkg.ErrNotRunning
	}
	if atomic.LoadInt32(&t.freed) != 0 {
		return 0, errors.Wrap(pkg.ErrInvalidParameter, "transfer freed")
	}
	if err := validate(t); err != nil {
		return 0, err
	}
	if !atomic.CompareAndSwapInt32(&t.inFlight, 0, 1) {
		return 0, pkg.ErrBusy
	}

	id := atomic.AddUint64(&tm.nextID, 1)
	atomic.StoreUint64(&t.id, id)

	tm.pendingMu.Lock()
	tm.pending[id] = t
	tm.pendingMu.Unlock()

	select {
	case tm.jobs <- t:
		return id, nil
	case <-tm.ctx.Done():
		tm.pendingMu.Lock()
		delete(tm.pending, id)
		tm.pendingMu.Unlock()
		atomic.StoreInt32(&t.inFlight, 0)
		return 0, pkg.ErrCancelled
	}
}

func validate(t *Transfer) error {
	switch t.Type {
	case hal.TransferControl:
		if t.Setup == nil {
			return errors.Wrap(pkg.ErrInvalidParameter, "control transfer without setup packet")
		}
		if len(t.Data) < hal.SetupPacketSize+int(t.Setup.Length) {
			return pkg.ErrBufferTooSmall
		}
	case hal.TransferBulk:
		if t.Length < 0 || t.Length > len(t.Data) {
			return pkg.ErrBufferTooSmall
		}
	default:
		return errors.Wrapf(pkg.ErrNotSupported, "transfer type %s", t.Type)
	}
	return nil
}

// worker processes transfers.
func (tm *TransferManager) worker(id int) {
	pkg.LogDebug(pkg.ComponentTransfer, "transfer worker started", "id", id)
	defer pkg.LogDebug(pkg.ComponentTransfer, "transfer worker stopped", "id", id)

	for {
		select {
		case <-tm.ctx.Done():
			return
		case t := <-tm.jobs:
			tm.execute(t)
		}
	}
}

// execute runs a single transfer on the HAL.
func (tm *TransferManager) execute(t *Transfer) {
	ctx := t.Context
	if ctx == nil {
		ctx = tm.ctx
	}
	if err := ctx.Err(); err != nil {
		tm.complete(t, 0, pkg.ErrCancelled)
		return
	}

	var n int
	var err error

	addr := hal.DeviceAddress(t.Address)
	switch t.Type {
	case hal.TransferControl:
		t.Setup.MarshalTo(t.Data[:hal.SetupPacketSize])
		stage := t.Data[hal.SetupPacketSize : hal.SetupPacketSize+int(t.Setup.Length)]
		n, err = tm.hal.ControlTransfer(ctx, addr, t.Setup, stage)
		n += hal.SetupPacketSize

	case hal.TransferBulk:
		n, err = tm.hal.BulkTransfer(ctx, addr, t.Endpoint, t.Data[:t.Length])
	}

	tm.complete(t, n, err)
}

// complete records the result and invokes the callback. The transfer
// leaves the in-flight state only after the callback returns.
func (tm *TransferManager) complete(t *Transfer, n int, err error) {
	tm.pendingMu.Lock()
	delete(tm.pending, t.ID())
	tm.pendingMu.Unlock()

	t.result = n
	t.err = err

	if err != nil {
		pkg.LogDebug(pkg.ComponentTransfer, "transfer failed",
			"endpoint", t.Endpoint,
			"type", t.Type.String(),
			"status", pkg.StatusOf(err).String(),
			"error", err)
	}

	if t.Callback != nil {
		t.Callback(t, n, err)
	}
	atomic.StoreInt32(&t.inFlight, 0)
}

// PendingCount returns the number of pending transfers.
func (tm *TransferManager) PendingCount() int {
	tm.pendingMu.RLock()
	defer tm.pendingMu.RUnlock()
	return len(tm.pending)
}
