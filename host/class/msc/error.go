package msc

import "errors"

// Mass storage errors.
var (
	// ErrInvalidDescriptor indicates the configuration has no usable
	// mass-storage interface.
	ErrInvalidDescriptor = errors.New("invalid mass storage descriptor")

	// ErrCommandFailed indicates the device reported CSW status "failed".
	ErrCommandFailed = errors.New("command failed")

	// ErrPhaseError indicates the device reported CSW status "phase error".
	ErrPhaseError = errors.New("phase error")

	// ErrInvalidLUN indicates a logical unit number beyond the LUN count.
	ErrInvalidLUN = errors.New("invalid LUN")

	// ErrBadSignature indicates a status wrapper with a wrong signature.
	ErrBadSignature = errors.New("bad CSW signature")
)
