package msc

import "github.com/ardnew/softmsc/host"

// USB Mass Storage Class codes.
const (
	ClassMSC         = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI Transparent Command Set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BOT)
)

// Bulk-Only Transport class request codes.
const (
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the MSC device
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
)

// Class request types (bmRequestType) for interface-directed requests.
const (
	RequestTypeClassInterfaceIn  = host.RequestTypeIn | host.RequestTypeClass | host.RequestTypeInterface  // 0xA1
	RequestTypeClassInterfaceOut = host.RequestTypeOut | host.RequestTypeClass | host.RequestTypeInterface // 0x21
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
	CDBLength      = 10         // Command block length used for every command
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI operation codes issued by the host driver.
const (
	SCSITestUnitReady  = 0x00 // Test if unit is ready
	SCSIFormatUnit     = 0x04 // Format the medium
	SCSIInquiry        = 0x12 // Get device information
	SCSIReadCapacity10 = 0x25 // Read capacity (10-byte)
	SCSIRead10         = 0x28 // Read blocks (10-byte)
	SCSIWrite10        = 0x2A // Write blocks (10-byte)
)

// Response sizes.
const (
	InquiryStandardSize = 36 // Standard INQUIRY data length
	InquiryRMB          = 0x80
	ReadCapacity10Size  = 8 // READ CAPACITY (10) data length

	// MaxLUNResponseSize is the length of a completed GET MAX LUN control
	// transfer: the 8-byte setup packet followed by the LUN byte.
	MaxLUNResponseSize = 9
)

// BufferSize is the size of each transfer buffer in the device pool.
const BufferSize = 4096

// DefaultBlockSize is the block size assumed by tools before discovery.
const DefaultBlockSize = 512
