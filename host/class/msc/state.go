package msc

import "fmt"

// command identifies an operation the engine tracks. Besides the SCSI
// commands it covers the two class control requests.
type command uint8

const (
	cmdNone command = iota
	cmdTestUnitReady
	cmdInquiry
	cmdReadCapacity
	cmdRead
	cmdWrite
	cmdFormat
	cmdMaxLUN
	cmdReset
)

// String returns the metric label for the command.
func (c command) String() string {
	switch c {
	case cmdNone:
		return "none"
	case cmdTestUnitReady:
		return "test_unit_ready"
	case cmdInquiry:
		return "inquiry"
	case cmdReadCapacity:
		return "read_capacity"
	case cmdRead:
		return "read"
	case cmdWrite:
		return "write"
	case cmdFormat:
		return "format"
	case cmdMaxLUN:
		return "max_lun"
	case cmdReset:
		return "reset"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// shape is the sequence of transfers a command goes through.
type shape uint8

const (
	shapeNoData  shape = iota // CBW, CSW
	shapeData                 // CBW, data, CSW
	shapeControl              // one control transfer
)

func (c command) shape() shape {
	switch c {
	case cmdFormat:
		return shapeNoData
	case cmdMaxLUN, cmdReset:
		return shapeControl
	default:
		return shapeData
	}
}

// dataIn reports whether the data phase moves device-to-host.
func (c command) dataIn() bool {
	switch c {
	case cmdInquiry, cmdReadCapacity, cmdRead:
		return true
	default:
		return false
	}
}

// phase is the transfer the engine waits on.
type phase uint8

const (
	phaseIdle phase = iota
	phaseAwaitingCBW
	phaseAwaitingData
	phaseAwaitingStatus
)

// String returns a string representation of the phase.
func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseAwaitingCBW:
		return "awaiting_cbw"
	case phaseAwaitingData:
		return "awaiting_data"
	case phaseAwaitingStatus:
		return "awaiting_status"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// state is the single pending operation of a device. The zero value is
// idle.
type state struct {
	phase  phase
	cmd    command
	lun    uint8
	tag    uint32
	length int // data phase length
}

// transition is one row of the engine's transition table: a command of the
// given shape in phase from moves to phase to when the transfer for from
// completes (or, from idle, when the command is started).
type transition struct {
	from  phase
	shape shape
	to    phase
}

var transitions = []transition{
	{phaseIdle, shapeNoData, phaseAwaitingCBW},
	{phaseIdle, shapeData, phaseAwaitingCBW},
	{phaseIdle, shapeControl, phaseAwaitingData},

	{phaseAwaitingCBW, shapeNoData, phaseAwaitingStatus},
	{phaseAwaitingCBW, shapeData, phaseAwaitingData},

	{phaseAwaitingData, shapeData, phaseAwaitingStatus},
	{phaseAwaitingData, shapeControl, phaseIdle},

	{phaseAwaitingStatus, shapeNoData, phaseIdle},
	{phaseAwaitingStatus, shapeData, phaseIdle},
}

// next returns the phase that follows s.phase for s.cmd.
func (s state) next() (phase, bool) {
	sh := s.cmd.shape()
	for _, t := range transitions {
		if t.from == s.phase && t.shape == sh {
			return t.to, true
		}
	}
	return s.phase, false
}

// phaseTag is attached to every submitted transfer so completions dispatch
// on what was submitted rather than on what the payload looks like.
type phaseTag struct {
	phase  phase
	cmd    command
	lun    uint8
	tag    uint32
	length int
}

func (s state) phaseTag() phaseTag {
	return phaseTag{phase: s.phase, cmd: s.cmd, lun: s.lun, tag: s.tag, length: s.length}
}

// at returns a copy of the tag for another phase of the same command.
func (p phaseTag) at(ph phase) phaseTag {
	p.phase = ph
	return p
}

// expected returns the event kind a successful completion of this phase
// should classify as. ok is false when the classifier has no rule for it.
func (p phaseTag) expected() (EventKind, bool) {
	switch {
	case p.cmd == cmdMaxLUN:
		return MaxLunResponse, true
	case p.cmd == cmdReset:
		return DataPayload, false
	case p.phase == phaseAwaitingCBW:
		return CommandEcho, true
	case p.phase == phaseAwaitingStatus:
		return StatusWrapper, true
	default:
		return DataPayload, true
	}
}
