package msc

import (
	"bytes"
	"encoding/binary"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// CDB is a SCSI command descriptor block padded to CDBLength bytes.
type CDB [CDBLength]byte

// TestUnitReadyCDB builds a TEST UNIT READY command.
func TestUnitReadyCDB() CDB {
	return CDB{SCSITestUnitReady}
}

// InquiryCDB builds a standard INQUIRY command.
func InquiryCDB(allocation uint8) CDB {
	return CDB{SCSIInquiry, 0, 0, 0, allocation}
}

// ReadCapacity10CDB builds a READ CAPACITY (10) command.
func ReadCapacity10CDB() CDB {
	return CDB{SCSIReadCapacity10}
}

// Read10CDB builds a READ (10) command.
func Read10CDB(lba uint32, blocks uint16) CDB {
	return rw10(SCSIRead10, lba, blocks)
}

// Write10CDB builds a WRITE (10) command.
func Write10CDB(lba uint32, blocks uint16) CDB {
	return rw10(SCSIWrite10, lba, blocks)
}

// FormatUnitCDB builds a FORMAT UNIT command with no parameter list.
func FormatUnitCDB() CDB {
	return CDB{SCSIFormatUnit}
}

func rw10(opcode uint8, lba uint32, blocks uint16) CDB {
	cdb := CDB{opcode}
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

// Capacity is the READ CAPACITY (10) result of one LUN.
//
// BlockCount holds the first big-endian field exactly as the device
// reported it. BlockSize zero means the LUN was not discovered.
type Capacity struct {
	BlockCount uint32
	BlockSize  uint32
}

// ParseCapacity decodes READ CAPACITY (10) data.
func ParseCapacity(data []byte) (Capacity, error) {
	if len(data) < ReadCapacity10Size {
		return Capacity{}, errors.Wrapf(pkg.ErrBufferTooSmall, "capacity data: %d bytes", len(data))
	}
	return Capacity{
		BlockCount: binary.BigEndian.Uint32(data[0:4]),
		BlockSize:  binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// Discovered reports whether the capacity was populated.
func (c Capacity) Discovered() bool {
	return c.BlockSize != 0
}

// Bytes returns BlockCount * BlockSize.
func (c Capacity) Bytes() uint64 {
	return uint64(c.BlockCount) * uint64(c.BlockSize)
}

// InquiryData is the decoded standard INQUIRY response.
type InquiryData struct {
	PeripheralType uint8
	Removable      bool
	Vendor         string
	Product        string
	Revision       string
}

// ParseInquiry decodes standard INQUIRY data. Identification strings are
// trimmed of space and NUL padding.
func ParseInquiry(data []byte) (InquiryData, error) {
	if len(data) < InquiryStandardSize {
		return InquiryData{}, errors.Wrapf(pkg.ErrBufferTooSmall, "inquiry data: %d bytes", len(data))
	}
	return InquiryData{
		PeripheralType: data[0] & 0x1F,
		Removable:      data[1]&InquiryRMB != 0,
		Vendor:         trimField(data[8:16]),
		Product:        trimField(data[16:32]),
		Revision:       trimField(data[32:36]),
	}, nil
}

func trimField(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}
