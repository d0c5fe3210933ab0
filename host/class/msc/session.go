package msc

import (
	"context"
	baseerrors "errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/host"
	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

// waiter is the single-slot notification a blocked caller waits on.
type waiter struct {
	tag  uint32
	cmd  command
	done chan error
}

// begin makes cmd the pending operation.
func (d *Device) begin(cmd command, lun uint8, length int) (*waiter, phaseTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.slots[slotCommand] == nil {
		return nil, phaseTag{}, pkg.ErrNotConfigured
	}
	if d.waiter != nil {
		return nil, phaseTag{}, errors.Wrapf(pkg.ErrBusy, "%s pending", d.waiter.cmd)
	}

	tag := d.nextTag
	d.nextTag++
	if d.nextTag == 0 {
		d.nextTag = 1
	}

	s := state{cmd: cmd, lun: lun, tag: tag, length: length}
	s.phase, _ = s.next()
	d.state = s
	d.pendingErr = nil

	w := &waiter{tag: tag, cmd: cmd, done: make(chan error, 1)}
	d.waiter = w
	return w, s.phaseTag(), nil
}

// abandon stops tracking w. Completions of its transfers become stale.
func (d *Device) abandon(w *waiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiter == w {
		d.waiter = nil
	}
	if d.state.tag == w.tag {
		d.state = state{}
	}
}

// finish ends the operation tagged pt and wakes its caller, if any.
func (d *Device) finish(pt phaseTag, err error) {
	d.mu.Lock()
	if d.state.tag == pt.tag {
		d.state = state{}
	}
	w := d.waiter
	if w != nil && w.tag == pt.tag {
		d.waiter = nil
	} else {
		w = nil
	}
	d.mu.Unlock()

	d.opts.Metrics.command(pt.cmd, err)
	if w != nil {
		w.done <- err
	}
}

// wait blocks until the operation completes, timeout elapses (when
// positive) or ctx ends. An expired wait does not cancel the transfer.
func (d *Device) wait(ctx context.Context, w *waiter, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var err error
	select {
	case err = <-w.done:
		return err
	case <-expired:
		err = errors.Wrapf(pkg.ErrTimeout, "%s after %s", w.cmd, timeout)
		d.opts.Metrics.timeout(w.cmd)
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), w.cmd.String())
	}

	d.abandon(w)
	select {
	case done := <-w.done:
		return done
	default:
	}
	pkg.LogWarn(pkg.ComponentMSC, "command abandoned", "command", w.cmd.String(), "tag", w.tag, "error", err)
	return err
}

// transfer returns a pool slot that is free to be reprogrammed.
func (d *Device) transfer(s slot) (*host.Transfer, error) {
	d.mu.Lock()
	t := d.slots[s]
	d.mu.Unlock()
	if t == nil {
		return nil, pkg.ErrNotConfigured
	}
	if t.InFlight() {
		return nil, pkg.ErrBusy
	}
	return t, nil
}

func (d *Device) submitBulk(s slot, endpoint uint8, length int, pt phaseTag) error {
	t, err := d.transfer(s)
	if err != nil {
		return err
	}
	if length > len(t.Data) {
		return errors.Wrapf(pkg.ErrBufferTooSmall, "%d bytes", length)
	}
	t.Type = hal.TransferBulk
	t.Endpoint = endpoint
	t.Setup = nil
	t.Length = length
	t.UserData = pt
	return d.host.Submit(t)
}

func (d *Device) submitCommand(pt phaseTag, cdb CDB) error {
	t, err := d.transfer(slotCommand)
	if err != nil {
		return err
	}
	cbw := NewCBW(pt.tag, uint32(pt.length), pt.cmd.dataIn(), pt.lun, cdb)
	cbw.MarshalTo(t.Data)
	return d.submitBulk(slotCommand, d.epOut, CBWSize, pt)
}

func (d *Device) submitStatus(pt phaseTag) error {
	length := CSWSize
	if mps := int(d.inMaxPacket); mps > 0 {
		length = (CSWSize + mps - 1) / mps * mps
	}
	if length > d.opts.BufferSize {
		length = CSWSize
	}
	return d.submitBulk(slotStatus, d.epIn, length, pt.at(phaseAwaitingStatus))
}

func (d *Device) submitControl(pt phaseTag, setup hal.SetupPacket) error {
	t, err := d.transfer(slotControl)
	if err != nil {
		return err
	}
	t.Type = hal.TransferControl
	t.Endpoint = 0
	t.Setup = &setup
	t.Length = int(setup.Length)
	t.UserData = pt
	return d.host.Submit(t)
}

// run issues a SCSI command and waits for its status phase.
func (d *Device) run(ctx context.Context, cmd command, lun uint8, length int, cdb CDB, timeout time.Duration) error {
	return d.runWithPayload(ctx, cmd, lun, length, cdb, timeout, nil)
}

// runWithPayload is run for commands with an OUT data phase. The payload is
// copied into the write slot only after cmd owns the session.
func (d *Device) runWithPayload(ctx context.Context, cmd command, lun uint8, length int, cdb CDB, timeout time.Duration, payload []byte) error {
	w, pt, err := d.begin(cmd, lun, length)
	if err != nil {
		return err
	}
	if payload != nil {
		t, err := d.transfer(slotWrite)
		if err != nil {
			d.finish(pt, err)
			return errors.Wrapf(err, "prepare %s data", cmd)
		}
		copy(t.Data[:length], payload[:length])
	}
	if err := d.start(ctx, pt, cdb); err != nil {
		d.finish(pt, err)
		return errors.Wrapf(err, "submit %s", cmd)
	}
	return d.wait(ctx, w, timeout)
}

// start submits the command block. READ (10) resubmits on a transient
// failure, bounded by Options.Retry.
func (d *Device) start(ctx context.Context, pt phaseTag, cdb CDB) error {
	if pt.cmd != cmdRead {
		return d.submitCommand(pt, cdb)
	}

	var permanent error
	op := func() error {
		err := d.submitCommand(pt, cdb)
		if err == nil || pkg.StatusOf(err).Transient() {
			return err
		}
		permanent = err
		return nil
	}
	notify := func(err error, next time.Duration) {
		d.opts.Metrics.stallRetry()
		pkg.LogDebug(pkg.ComponentMSC, "resubmitting command block",
			"command", pt.cmd.String(),
			"tag", pt.tag,
			"error", err,
			"next", next)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.opts.Retry.Interval), d.opts.Retry.MaxStallRetries),
		ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}
	return permanent
}

// control issues a class request on the default pipe and waits for it.
func (d *Device) control(ctx context.Context, cmd command, setup hal.SetupPacket, timeout time.Duration) error {
	w, pt, err := d.begin(cmd, 0, int(setup.Length))
	if err != nil {
		return err
	}
	if err := d.submitControl(pt, setup); err != nil {
		d.finish(pt, err)
		return errors.Wrapf(err, "submit %s", cmd)
	}
	return d.wait(ctx, w, timeout)
}

// onComplete is the completion callback of every pooled transfer. It runs
// on the transfer layer's worker and never blocks on a caller.
func (d *Device) onComplete(t *host.Transfer, n int, err error) {
	pt, ok := t.UserData.(phaseTag)
	if !ok {
		pkg.LogWarn(pkg.ComponentMSC, "completion without phase tag", "endpoint", t.Endpoint)
		return
	}
	ev := Classify(t.Data, n)

	d.mu.Lock()
	cb := d.callbacks
	cur := d.state
	stale := cur.tag != pt.tag || cur.phase != pt.phase
	if stale && err == nil && pt.cmd == cmdReadCapacity && pt.phase == phaseAwaitingData {
		d.storeCapacity(pt.lun, ev.Data)
	}
	if !stale {
		d.state.phase, _ = cur.next()
	}
	d.mu.Unlock()

	if err == nil {
		if want, ok := pt.expected(); ok && want != ev.Kind {
			d.opts.Metrics.misclassified()
			pkg.LogWarn(pkg.ComponentMSC, "completion classified as another phase",
				"command", pt.cmd.String(),
				"phase", pt.phase.String(),
				"classified", ev.Kind.String(),
				"length", n)
		}
		fireHook(cb, ev)
	}

	if stale {
		d.opts.Metrics.stale()
		pkg.LogDebug(pkg.ComponentMSC, "stale completion",
			"command", pt.cmd.String(),
			"phase", pt.phase.String(),
			"tag", pt.tag,
			"current", cur.tag)
		return
	}

	switch pt.phase {
	case phaseAwaitingCBW:
		d.afterCommand(pt, err)
	case phaseAwaitingData:
		if pt.cmd.shape() == shapeControl {
			d.afterControl(pt, cb, ev, err)
		} else {
			d.afterData(pt, ev, err)
		}
	case phaseAwaitingStatus:
		d.afterStatus(pt, cb, ev, err)
	}
}

func fireHook(cb Callbacks, ev Event) {
	switch ev.Kind {
	case CommandEcho:
		if cb.CommandEcho != nil {
			cb.CommandEcho(ev)
		}
	case StatusWrapper:
		if cb.Status != nil {
			cb.Status(ev)
		}
	case DataPayload:
		if cb.Data != nil {
			cb.Data(ev)
		}
	}
}

func (d *Device) afterCommand(pt phaseTag, err error) {
	if err != nil {
		d.recoverStall(d.epOut, err)
		d.finish(pt, errors.Wrapf(err, "%s command block", pt.cmd))
		return
	}
	if pt.cmd.shape() == shapeNoData {
		d.continueWithStatus(pt)
		return
	}

	data := pt.at(phaseAwaitingData)
	var serr error
	if pt.cmd.dataIn() {
		serr = d.submitBulk(slotRead, d.epIn, pt.length, data)
	} else {
		serr = d.submitBulk(slotWrite, d.epOut, pt.length, data)
	}
	if serr == nil {
		return
	}

	// The device still sends a CSW; collect it and report the failure.
	d.mu.Lock()
	if d.state.tag == pt.tag {
		d.state.phase = phaseAwaitingStatus
		d.pendingErr = errors.Wrapf(serr, "submit %s data", pt.cmd)
	}
	d.mu.Unlock()
	d.continueWithStatus(pt)
}

func (d *Device) afterData(pt phaseTag, ev Event, err error) {
	if err != nil {
		ep := d.epOut
		if pt.cmd.dataIn() {
			ep = d.epIn
		}
		d.recoverStall(ep, err)
		d.mu.Lock()
		if d.state.tag == pt.tag {
			d.pendingErr = errors.Wrapf(err, "%s data", pt.cmd)
		}
		d.mu.Unlock()
		d.continueWithStatus(pt)
		return
	}

	switch pt.cmd {
	case cmdReadCapacity:
		d.mu.Lock()
		d.storeCapacity(pt.lun, ev.Data)
		d.mu.Unlock()
	case cmdInquiry:
		inq, perr := ParseInquiry(ev.Data)
		d.mu.Lock()
		if perr == nil {
			d.inquiry = inq
		} else if d.state.tag == pt.tag {
			d.pendingErr = perr
		}
		d.mu.Unlock()
	}
	d.continueWithStatus(pt)
}

func (d *Device) continueWithStatus(pt phaseTag) {
	if err := d.submitStatus(pt); err != nil {
		d.finish(pt, errors.Wrapf(err, "submit %s status", pt.cmd))
	}
}

func (d *Device) afterStatus(pt phaseTag, cb Callbacks, ev Event, err error) {
	d.mu.Lock()
	pending := d.pendingErr
	d.pendingErr = nil
	d.mu.Unlock()

	if err != nil {
		d.recoverStall(d.epIn, err)
		d.finish(pt, errors.Wrapf(err, "%s status", pt.cmd))
		return
	}

	var csw CommandStatusWrapper
	if perr := ParseCSW(ev.Data, &csw); perr != nil {
		d.finish(pt, errors.Wrapf(perr, "%s status", pt.cmd))
		return
	}
	if csw.Tag != pt.tag {
		pkg.LogWarn(pkg.ComponentMSC, "status tag mismatch", "command", pt.cmd.String(), "tag", pt.tag, "csw_tag", csw.Tag)
	}
	if csw.DataResidue != 0 {
		pkg.LogDebug(pkg.ComponentMSC, "data residue", "command", pt.cmd.String(), "residue", csw.DataResidue)
	}

	result := pending
	if cerr := csw.Err(); result == nil && cerr != nil {
		result = errors.Wrapf(cerr, "%s", pt.cmd)
	}

	if result == nil {
		switch pt.cmd {
		case cmdInquiry:
			if cb.Inquiry != nil {
				cb.Inquiry(d.InquiryData())
			}
		case cmdReadCapacity:
			if cb.Capacity != nil && int(pt.lun) == d.LUNCount()-1 {
				c, _ := d.Capacity(pt.lun)
				cb.Capacity(pt.lun, c)
			}
		}
	}
	d.finish(pt, result)
}

func (d *Device) afterControl(pt phaseTag, cb Callbacks, ev Event, err error) {
	if pt.cmd != cmdMaxLUN {
		d.finish(pt, err)
		return
	}

	count := 1
	switch {
	case baseerrors.Is(err, pkg.ErrStall):
		// Devices with a single LUN may stall GET MAX LUN.
		pkg.LogDebug(pkg.ComponentDiscovery, "GET MAX LUN stalled, assuming one LUN")
	case err != nil:
		d.finish(pt, errors.Wrap(err, "get max LUN"))
		return
	case ev.Length >= MaxLUNResponseSize:
		count = int(ev.Data[hal.SetupPacketSize]&0x0F) + 1
	}

	d.mu.Lock()
	d.lunCount = count
	d.capacity = make([]Capacity, count)
	d.mu.Unlock()
	d.opts.Metrics.luns(count)

	if cb.MaxLUNs != nil {
		cb.MaxLUNs(count)
	}
	d.finish(pt, nil)
}

// recoverStall clears a halted endpoint so the next phase can proceed. It
// runs on the transfer worker and holds it for at most Timeouts.Reset;
// with Timeouts.Reset zero it waits for the host.
func (d *Device) recoverStall(endpoint uint8, err error) {
	if !baseerrors.Is(err, pkg.ErrStall) {
		return
	}
	ctx := context.Background()
	if d.opts.Timeouts.Reset > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeouts.Reset)
		defer cancel()
	}
	if cerr := d.host.ClearEndpointHalt(ctx, endpoint); cerr != nil {
		pkg.LogWarn(pkg.ComponentMSC, "clear halt failed", "endpoint", endpoint, "error", cerr)
		return
	}
	pkg.LogDebug(pkg.ComponentMSC, "endpoint halt cleared", "endpoint", endpoint)
}
