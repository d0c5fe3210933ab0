package msc

import (
	"context"
	baseerrors "errors"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

// TestUnitReady issues TEST UNIT READY to LUN 0.
func (d *Device) TestUnitReady(ctx context.Context) error {
	return d.run(ctx, cmdTestUnitReady, 0, 0, TestUnitReadyCDB(), d.opts.Timeouts.UnitReady)
}

// Inquiry issues a standard INQUIRY and returns the decoded response.
func (d *Device) Inquiry(ctx context.Context) (InquiryData, error) {
	err := d.run(ctx, cmdInquiry, 0, InquiryStandardSize, InquiryCDB(InquiryStandardSize), d.opts.Timeouts.DiscoveryStep)
	if err != nil {
		return InquiryData{}, err
	}
	return d.InquiryData(), nil
}

// ReadCapacity issues READ CAPACITY (10) and records the result for lun.
func (d *Device) ReadCapacity(ctx context.Context, lun uint8) (Capacity, error) {
	if _, err := d.Capacity(lun); err != nil {
		return Capacity{}, err
	}
	err := d.run(ctx, cmdReadCapacity, lun, ReadCapacity10Size, ReadCapacity10CDB(), d.opts.Timeouts.DiscoveryStep)
	if err != nil {
		return Capacity{}, err
	}
	return d.Capacity(lun)
}

// Read10 reads sectors blocks starting at lba.
//
// Only the first block is copied into buf, whatever the sector count, so
// buf must hold at least one block. Multi-sector reads transfer the full
// range on the bus but return one block.
func (d *Device) Read10(ctx context.Context, lun uint8, lba uint32, sectors uint16, buf []byte) error {
	c, length, err := d.prepareIO(lun, sectors)
	if err != nil {
		return err
	}
	bs := int(c.BlockSize)
	if len(buf) < bs {
		return errors.Wrapf(pkg.ErrBufferTooSmall, "read buffer %d bytes, block %d", len(buf), bs)
	}

	if err := d.run(ctx, cmdRead, lun, length, Read10CDB(lba, sectors), d.opts.Timeouts.Read); err != nil {
		return err
	}

	t, err := d.transfer(slotRead)
	if err != nil {
		return err
	}
	copy(buf[:bs], t.Data[:bs])
	return nil
}

// Write10 writes sectors blocks from buf starting at lba.
func (d *Device) Write10(ctx context.Context, lun uint8, lba uint32, sectors uint16, buf []byte) error {
	_, length, err := d.prepareIO(lun, sectors)
	if err != nil {
		return err
	}
	if len(buf) < length {
		return errors.Wrapf(pkg.ErrBufferTooSmall, "write buffer %d bytes, need %d", len(buf), length)
	}

	return d.runWithPayload(ctx, cmdWrite, lun, length, Write10CDB(lba, sectors), d.opts.Timeouts.Write, buf[:length])
}

func (d *Device) prepareIO(lun uint8, sectors uint16) (Capacity, int, error) {
	c, err := d.Capacity(lun)
	if err != nil {
		return Capacity{}, 0, err
	}
	if !c.Discovered() {
		return Capacity{}, 0, errors.Wrapf(pkg.ErrNotConfigured, "capacity of LUN %d unknown", lun)
	}
	if sectors == 0 {
		return Capacity{}, 0, errors.Wrap(pkg.ErrInvalidParameter, "zero sectors")
	}
	length := int(sectors) * int(c.BlockSize)
	if length > d.opts.BufferSize {
		return Capacity{}, 0, errors.Wrapf(pkg.ErrInvalidParameter,
			"%d sectors of %d bytes exceed the %d byte transfer buffer", sectors, c.BlockSize, d.opts.BufferSize)
	}
	return c, length, nil
}

// Format issues FORMAT UNIT to lun.
func (d *Device) Format(ctx context.Context, lun uint8) error {
	if _, err := d.Capacity(lun); err != nil {
		return err
	}
	return d.run(ctx, cmdFormat, lun, 0, FormatUnitCDB(), d.opts.Timeouts.Format)
}

// GetMaxLUN issues GET MAX LUN and returns the number of logical units.
// A device that stalls the request has one.
func (d *Device) GetMaxLUN(ctx context.Context) (int, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeClassInterfaceIn,
		Request:     RequestGetMaxLUN,
		Index:       uint16(d.iface),
		Length:      1,
	}
	if err := d.control(ctx, cmdMaxLUN, setup, d.opts.Timeouts.DiscoveryStep); err != nil {
		return 0, err
	}
	return d.LUNCount(), nil
}

// Reset issues BULK-ONLY MASS STORAGE RESET and clears the halt condition
// on both bulk endpoints.
func (d *Device) Reset(ctx context.Context) error {
	setup := hal.SetupPacket{
		RequestType: RequestTypeClassInterfaceOut,
		Request:     RequestBulkOnlyMassStorageReset,
		Index:       uint16(d.iface),
	}
	if err := d.control(ctx, cmdReset, setup, d.opts.Timeouts.Reset); err != nil {
		return err
	}

	return baseerrors.Join(
		d.host.ClearEndpointHalt(ctx, d.epIn),
		d.host.ClearEndpointHalt(ctx, d.epOut),
	)
}
