package msc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/softmsc/host"
	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

// =============================================================================
// Fake Bulk-Only Transport disk
// =============================================================================

type fakeLUN struct {
	blockSize uint32
	blocks    uint32
	data      []byte
}

func newFakeLUN(blockSize, blocks uint32) *fakeLUN {
	return &fakeLUN{
		blockSize: blockSize,
		blocks:    blocks,
		data:      make([]byte, int(blockSize)*int(blocks)),
	}
}

// fakeDisk answers BOT traffic the way a well-behaved flash drive does.
type fakeDisk struct {
	mu sync.Mutex

	luns        []*fakeLUN
	maxLUNStall bool

	// Current command
	cbw      *CommandBlockWrapper
	dataDone bool
	status   uint8

	// Fault injection
	failStatus map[uint8]uint8 // opcode -> CSW status
	stallData  map[uint8]int   // opcode -> data phases to stall

	// Observed traffic
	commands []string
	resets   int
}

func newFakeDisk(luns ...*fakeLUN) *fakeDisk {
	return &fakeDisk{
		luns:       luns,
		failStatus: make(map[uint8]uint8),
		stallData:  make(map[uint8]int),
	}
}

func opcodeName(cbw *CommandBlockWrapper) string {
	switch cbw.Opcode() {
	case SCSITestUnitReady:
		return "test_unit_ready"
	case SCSIFormatUnit:
		return fmt.Sprintf("format(%d)", cbw.LUN)
	case SCSIInquiry:
		return "inquiry"
	case SCSIReadCapacity10:
		return fmt.Sprintf("read_capacity(%d)", cbw.LUN)
	case SCSIRead10:
		return fmt.Sprintf("read(%d,%d)", cbw.LUN, binary.BigEndian.Uint32(cbw.CB[2:6]))
	case SCSIWrite10:
		return fmt.Sprintf("write(%d,%d)", cbw.LUN, binary.BigEndian.Uint32(cbw.CB[2:6]))
	default:
		return fmt.Sprintf("opcode(%#02x)", cbw.Opcode())
	}
}

func (f *fakeDisk) control(setup *hal.SetupPacket, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case setup.RequestType == RequestTypeClassInterfaceIn && setup.Request == RequestGetMaxLUN:
		if f.maxLUNStall {
			return 0, pkg.ErrStall
		}
		data[0] = byte(len(f.luns) - 1)
		return 1, nil
	case setup.RequestType == RequestTypeClassInterfaceOut && setup.Request == RequestBulkOnlyMassStorageReset:
		f.resets++
		f.cbw = nil
		return 0, nil
	}
	return 0, pkg.ErrStall
}

func (f *fakeDisk) bulk(endpoint uint8, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if endpoint&0x80 == 0 {
		var cbw CommandBlockWrapper
		if len(data) == CBWSize && ParseCBW(data, &cbw) {
			f.cbw = &cbw
			f.dataDone = cbw.DataTransferLength == 0
			f.status = CSWStatusGood
			f.commands = append(f.commands, opcodeName(&cbw))
			return len(data), nil
		}
		if f.cbw == nil {
			return 0, pkg.ErrProtocol
		}
		f.writeData(data)
		f.dataDone = true
		return len(data), nil
	}

	if f.cbw == nil {
		return 0, pkg.ErrProtocol
	}
	if !f.dataDone && f.cbw.IsDataIn() {
		f.dataDone = true
		op := f.cbw.Opcode()
		if f.stallData[op] > 0 {
			f.stallData[op]--
			f.status = CSWStatusFailed
			return 0, pkg.ErrStall
		}
		return f.readData(data), nil
	}

	csw := CommandStatusWrapper{
		Signature: CSWSignature,
		Tag:       f.cbw.Tag,
		Status:    f.status,
	}
	if s, ok := f.failStatus[f.cbw.Opcode()]; ok {
		csw.Status = s
	}
	f.cbw = nil
	return csw.MarshalTo(data), nil
}

func (f *fakeDisk) lun() *fakeLUN {
	if int(f.cbw.LUN) >= len(f.luns) {
		return nil
	}
	return f.luns[f.cbw.LUN]
}

func (f *fakeDisk) readData(data []byte) int {
	switch f.cbw.Opcode() {
	case SCSIInquiry:
		resp := make([]byte, InquiryStandardSize)
		resp[1] = InquiryRMB
		copy(resp[8:16], "SoftMSC ")
		copy(resp[16:32], "Test Disk       ")
		copy(resp[32:36], "1.00")
		return copy(data, resp)

	case SCSIReadCapacity10:
		l := f.lun()
		if l == nil {
			return 0
		}
		binary.BigEndian.PutUint32(data[0:4], l.blocks)
		binary.BigEndian.PutUint32(data[4:8], l.blockSize)
		return ReadCapacity10Size

	case SCSIRead10:
		l := f.lun()
		if l == nil {
			return 0
		}
		lba := int(binary.BigEndian.Uint32(f.cbw.CB[2:6]))
		off := lba * int(l.blockSize)
		return copy(data, l.data[off:])
	}
	return 0
}

func (f *fakeDisk) writeData(data []byte) {
	if f.cbw.Opcode() != SCSIWrite10 {
		return
	}
	l := f.lun()
	if l == nil {
		return
	}
	lba := int(binary.BigEndian.Uint32(f.cbw.CB[2:6]))
	copy(l.data[lba*int(l.blockSize):], data)
}

func (f *fakeDisk) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// =============================================================================
// Fake Host
// =============================================================================

// fakeHost implements Host on top of a fakeDisk, completing transfers in
// order on one goroutine like a single-worker transfer manager.
type fakeHost struct {
	disk *fakeDisk
	jobs chan *host.Transfer

	mu        sync.Mutex
	busy      map[*host.Transfer]bool
	claimed   map[uint8]bool
	allocated int
	freed     int
	clears    []uint8
	hangClear bool

	// reject is consulted before a transfer is queued.
	reject func(t *host.Transfer) error
	// hold may return a channel the worker waits on before executing t.
	hold func(t *host.Transfer) <-chan struct{}
}

var _ Host = (*fakeHost)(nil)

func newFakeHost(t *testing.T, disk *fakeDisk) *fakeHost {
	t.Helper()
	h := &fakeHost{
		disk:    disk,
		jobs:    make(chan *host.Transfer, host.MaxTransfers),
		busy:    make(map[*host.Transfer]bool),
		claimed: make(map[uint8]bool),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for tr := range h.jobs {
			h.execute(tr)
		}
	}()
	t.Cleanup(func() {
		close(h.jobs)
		<-done
	})
	return h
}

func (h *fakeHost) execute(t *host.Transfer) {
	h.mu.Lock()
	hold := h.hold
	h.mu.Unlock()
	if hold != nil {
		if ch := hold(t); ch != nil {
			<-ch
		}
	}

	var n int
	var err error
	switch t.Type {
	case hal.TransferControl:
		t.Setup.MarshalTo(t.Data)
		n, err = h.disk.control(t.Setup, t.Data[hal.SetupPacketSize:hal.SetupPacketSize+int(t.Setup.Length)])
		n += hal.SetupPacketSize
	case hal.TransferBulk:
		n, err = h.disk.bulk(t.Endpoint, t.Data[:t.Length])
	}

	t.Callback(t, n, err)

	h.mu.Lock()
	delete(h.busy, t)
	h.mu.Unlock()
}

func (h *fakeHost) Submit(t *host.Transfer) error {
	h.mu.Lock()
	reject := h.reject
	h.mu.Unlock()
	if reject != nil {
		if err := reject(t); err != nil {
			return err
		}
	}

	h.mu.Lock()
	if h.busy[t] {
		h.mu.Unlock()
		return pkg.ErrBusy
	}
	h.busy[t] = true
	h.mu.Unlock()

	h.jobs <- t
	return nil
}

func (h *fakeHost) AllocTransfer(size int) (*host.Transfer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocated++
	return &host.Transfer{Data: make([]byte, size)}, nil
}

func (h *fakeHost) FreeTransfer(t *host.Transfer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freed++
	return nil
}

func (h *fakeHost) ClaimInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.claimed[iface] = true
	return nil
}

func (h *fakeHost) ReleaseInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.claimed, iface)
	return nil
}

func (h *fakeHost) ClearEndpointHalt(ctx context.Context, endpoint uint8) error {
	h.mu.Lock()
	h.clears = append(h.clears, endpoint)
	hang := h.hangClear
	h.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (h *fakeHost) setReject(fn func(t *host.Transfer) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reject = fn
}

func (h *fakeHost) setHold(fn func(t *host.Transfer) <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hold = fn
}

func (h *fakeHost) inFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.busy)
}

func (h *fakeHost) clearedEndpoints() []uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint8(nil), h.clears...)
}

// =============================================================================
// Helpers
// =============================================================================

// Configuration descriptor of a single-interface flash drive.
var testConfigDescriptor = []byte{
	// Configuration
	0x09, 0x02, 0x20, 0x00, 0x01, 0x01, 0x00, 0x80, 0x32,
	// Interface 0: mass storage, SCSI transparent, BOT
	0x09, 0x04, 0x00, 0x00, 0x02, 0x08, 0x06, 0x50, 0x00,
	// Endpoint 0x81 bulk IN, 512
	0x07, 0x05, 0x81, 0x02, 0x00, 0x02, 0x00,
	// Endpoint 0x02 bulk OUT, 512
	0x07, 0x05, 0x02, 0x02, 0x00, 0x02, 0x00,
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Timeouts.UnitReady = time.Second
	opts.Timeouts.Read = time.Second
	opts.Timeouts.Write = time.Second
	opts.Timeouts.DiscoveryStep = time.Second
	opts.Retry.Interval = 0
	return opts
}

// newTestDevice creates and initializes a device backed by disk.
func newTestDevice(t *testing.T, disk *fakeDisk, opts Options) (*Device, *fakeHost) {
	t.Helper()
	h := newFakeHost(t, disk)
	d, err := New(testConfigDescriptor, h, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return d, h
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// isCommand reports whether t carries a command block for opcode.
func isCommand(t *host.Transfer, opcode uint8) bool {
	pt, ok := t.UserData.(phaseTag)
	return ok && pt.phase == phaseAwaitingCBW && t.Data[15] == opcode
}

// isPhase reports whether t belongs to phase ph of cmd.
func isPhase(t *host.Transfer, cmd command, ph phase) bool {
	pt, ok := t.UserData.(phaseTag)
	return ok && pt.cmd == cmd && pt.phase == ph
}
