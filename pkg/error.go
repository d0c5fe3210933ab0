package pkg

import "errors"

// Transfer errors reported by HALs and the transfer manager.
var (
	ErrStall     = errors.New("endpoint stalled")
	ErrTimeout   = errors.New("transfer timeout")
	ErrCancelled = errors.New("transfer cancelled")
	ErrOverrun   = errors.New("data overrun")
	ErrProtocol  = errors.New("protocol error")
	ErrNoDevice  = errors.New("device not present")
	ErrBusy      = errors.New("resource busy")
)

// Descriptor errors.
var (
	ErrDescriptorTooShort     = errors.New("descriptor too short")
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")
)

// Lifecycle and argument errors.
var (
	ErrNotConfigured    = errors.New("device not configured")
	ErrAlreadyRunning   = errors.New("already running")
	ErrNotRunning       = errors.New("not running")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrNotSupported     = errors.New("not supported")
	ErrNoResources      = errors.New("no resources available")
)

// Status classifies a transfer error for logs and metric labels.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
	StatusStall
	StatusTimeout
	StatusCancelled
	StatusOverrun
	StatusNoDevice
	StatusBusy
)

var statusNames = [...]string{
	StatusSuccess:   "success",
	StatusError:     "error",
	StatusStall:     "stall",
	StatusTimeout:   "timeout",
	StatusCancelled: "cancelled",
	StatusOverrun:   "overrun",
	StatusNoDevice:  "no_device",
	StatusBusy:      "busy",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Transient reports whether a resubmission of the same transfer may
// succeed.
func (s Status) Transient() bool {
	return s == StatusStall || s == StatusBusy
}

// StatusOf classifies err. Wrapped errors are matched with errors.Is.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrStall):
		return StatusStall
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	case errors.Is(err, ErrOverrun):
		return StatusOverrun
	case errors.Is(err, ErrNoDevice):
		return StatusNoDevice
	case errors.Is(err, ErrBusy):
		return StatusBusy
	}
	return StatusError
}
