package msc

import "encoding/binary"

// EventKind is the phase a completed transfer is classified as.
type EventKind int

// Event kinds.
const (
	DataPayload EventKind = iota
	MaxLunResponse
	CommandEcho
	StatusWrapper
)

// String returns a string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case DataPayload:
		return "data"
	case MaxLunResponse:
		return "max_lun"
	case CommandEcho:
		return "command_echo"
	case StatusWrapper:
		return "status"
	default:
		return "unknown"
	}
}

// maxLunSetup is the first two bytes of a GET MAX LUN setup packet read as
// a little-endian word: bmRequestType 0xA1, bRequest 0xFE.
const maxLunSetup = uint16(RequestGetMaxLUN)<<8 | RequestTypeClassInterfaceIn

// Event is a classified transfer completion.
type Event struct {
	Kind   EventKind
	Data   []byte // buf[:Length]
	Length int
}

// Classify maps a completed transfer to an event kind using its length and
// leading bytes only. Rules are checked in order:
//
//	9 bytes starting A1 FE        -> MaxLunResponse
//	31 bytes starting "USBC"      -> CommandEcho
//	13 bytes starting "USBS"      -> StatusWrapper
//	anything else                 -> DataPayload
//
// A data payload of 9, 13 or 31 bytes that happens to start with one of
// those signatures is misclassified.
func Classify(buf []byte, n int) Event {
	if n < 0 {
		n = 0
	}
	if n > len(buf) {
		n = len(buf)
	}
	ev := Event{Kind: DataPayload, Data: buf[:n], Length: n}

	switch {
	case n == MaxLUNResponseSize && binary.LittleEndian.Uint16(buf) == maxLunSetup:
		ev.Kind = MaxLunResponse
	case n == CBWSize && binary.LittleEndian.Uint32(buf) == CBWSignature:
		ev.Kind = CommandEcho
	case n == CSWSize && binary.LittleEndian.Uint32(buf) == CSWSignature:
		ev.Kind = StatusWrapper
	}
	return ev
}
