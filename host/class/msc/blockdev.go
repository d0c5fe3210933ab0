package msc

import (
	"context"
	"io"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// BlockDevice exposes one LUN as an io.ReaderAt and io.WriterAt for a
// filesystem layer. It issues one-sector commands and serializes them with
// every other BlockDevice of the same Device.
type BlockDevice struct {
	dev       *Device
	ctx       context.Context
	lun       uint8
	blockSize int64
	blocks    int64
}

// BlockDevice returns an adapter for lun. The LUN's capacity must have
// been discovered. ctx bounds every command the adapter issues.
func (d *Device) BlockDevice(ctx context.Context, lun uint8) (*BlockDevice, error) {
	c, err := d.Capacity(lun)
	if err != nil {
		return nil, err
	}
	if !c.Discovered() {
		return nil, errors.Wrapf(pkg.ErrNotConfigured, "capacity of LUN %d unknown", lun)
	}
	return &BlockDevice{
		dev:       d,
		ctx:       ctx,
		lun:       lun,
		blockSize: int64(c.BlockSize),
		blocks:    int64(c.BlockCount),
	}, nil
}

// LUN returns the logical unit number.
func (b *BlockDevice) LUN() uint8 {
	return b.lun
}

// BlockSize returns the block size in bytes.
func (b *BlockDevice) BlockSize() int64 {
	return b.blockSize
}

// Size returns the device size in bytes.
func (b *BlockDevice) Size() int64 {
	return b.blocks * b.blockSize
}

// ReadAt implements io.ReaderAt.
func (b *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(pkg.ErrInvalidParameter, "offset %d", off)
	}
	if err := b.dev.sem.Acquire(b.ctx, 1); err != nil {
		return 0, err
	}
	defer b.dev.sem.Release(1)

	block := make([]byte, b.blockSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= b.Size() {
			return n, io.EOF
		}
		lba, within := pos/b.blockSize, pos%b.blockSize
		if err := b.dev.Read10(b.ctx, b.lun, uint32(lba), 1, block); err != nil {
			return n, errors.Wrapf(err, "read block %d", lba)
		}
		n += copy(p[n:], block[within:])
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Partial blocks are read, patched and
// written back.
func (b *BlockDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(pkg.ErrInvalidParameter, "offset %d", off)
	}
	if off+int64(len(p)) > b.Size() {
		return 0, errors.Wrapf(pkg.ErrInvalidParameter, "write of %d bytes at %d past end of device", len(p), off)
	}
	if err := b.dev.sem.Acquire(b.ctx, 1); err != nil {
		return 0, err
	}
	defer b.dev.sem.Release(1)

	block := make([]byte, b.blockSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		lba, within := pos/b.blockSize, pos%b.blockSize
		chunk := min(int64(len(p)-n), b.blockSize-within)

		if chunk < b.blockSize {
			if err := b.dev.Read10(b.ctx, b.lun, uint32(lba), 1, block); err != nil {
				return n, errors.Wrapf(err, "read block %d", lba)
			}
		}
		copy(block[within:within+chunk], p[n:])
		if err := b.dev.Write10(b.ctx, b.lun, uint32(lba), 1, block); err != nil {
			return n, errors.Wrapf(err, "write block %d", lba)
		}
		n += int(chunk)
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*BlockDevice)(nil)
	_ io.WriterAt = (*BlockDevice)(nil)
)
