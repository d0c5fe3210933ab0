package msc

import (
	"encoding/binary"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// CommandBlockWrapper represents a Command Block Wrapper in Bulk-Only Transport.
type CommandBlockWrapper struct {
	Signature          uint32   // Must be CBWSignature (0x43425355)
	Tag                uint32   // Command block tag
	DataTransferLength uint32   // Number of bytes to transfer in data phase
	Flags              uint8    // Direction flag (bit 7: 0=Out, 1=In)
	LUN                uint8    // Logical Unit Number (bits 0-3)
	CBLength           uint8    // Command block length
	CB                 [16]byte // Command block (SCSI CDB, zero-padded)
}

// NewCBW creates a Command Block Wrapper for a 10-byte command block.
func NewCBW(tag, length uint32, in bool, lun uint8, cdb CDB) *CommandBlockWrapper {
	cbw := &CommandBlockWrapper{
		Signature:          CBWSignature,
		Tag:                tag,
		DataTransferLength: length,
		Flags:              CBWFlagDataOut,
		LUN:                lun & 0x0F,
		CBLength:           CDBLength,
	}
	if in {
		cbw.Flags = CBWFlagDataIn
	}
	copy(cbw.CB[:], cdb[:])
	return cbw
}

// MarshalTo writes the Command Block Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], cbw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN
	buf[14] = cbw.CBLength
	copy(buf[15:31], cbw.CB[:])

	return CBWSize
}

// ParseCBW parses a Command Block Wrapper from raw bytes.
// Returns false if data is too short or signature is invalid.
func ParseCBW(data []byte, out *CommandBlockWrapper) bool {
	if len(data) < CBWSize {
		return false
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CBWSignature {
		return false
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = data[14] & 0x1F
	copy(out.CB[:], data[15:31])

	return true
}

// IsDataIn returns true if the data phase is device-to-host (IN).
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// Opcode returns the SCSI operation code of the wrapped command.
func (cbw *CommandBlockWrapper) Opcode() uint8 {
	return cbw.CB[0]
}

// CommandStatusWrapper represents a Command Status Wrapper in Bulk-Only Transport.
type CommandStatusWrapper struct {
	Signature   uint32 // Must be CSWSignature (0x53425355)
	Tag         uint32 // Should match the CBW tag
	DataResidue uint32 // Difference between expected and actual data transfer
	Status      uint8  // Command status (CSWStatus*)
}

// ParseCSW parses a Command Status Wrapper from raw bytes.
func ParseCSW(data []byte, out *CommandStatusWrapper) error {
	if len(data) < CSWSize {
		return errors.Wrapf(pkg.ErrBufferTooSmall, "CSW: %d bytes", len(data))
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CSWSignature {
		return errors.Wrapf(ErrBadSignature, "got %#08x", out.Signature)
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]

	return nil
}

// MarshalTo writes the Command Status Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], csw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status

	return CSWSize
}

// Err maps the CSW status byte to an error.
func (csw *CommandStatusWrapper) Err() error {
	switch csw.Status {
	case CSWStatusGood:
		return nil
	case CSWStatusFailed:
		return ErrCommandFailed
	case CSWStatusPhaseError:
		return ErrPhaseError
	default:
		return errors.Wrapf(pkg.ErrProtocol, "CSW status %#02x", csw.Status)
	}
}
