package core

import (
	"errors"
)

var (
	ErrPresentation         = errors.New("presentation target lost, recreate required")
	ErrInvalidFrameState    = errors.New("invalid frame state")
	ErrSlotPoolExhausted    = errors.New("bindless slot pool exhausted")
	ErrDuplicateInputStream = errors.New("input stream already registered")
	ErrInputStreamNotFound  = errors.New("input stream not found")
	ErrPushConstantSize     = errors.New("push constant size mismatch")
	ErrPassCycle            = errors.New("render pass dependency cycle")
	ErrNoWorkers            = errors.New("number of workers must be greater than zero")
	ErrNegativeChannelSize  = errors.New("channel size must be non-negative")
	ErrJobSystemStopped     = errors.New("job system is shut down")
	ErrJobPanicked          = errors.New("job panicked")
	ErrUnknown              = errors.New("unknown")
)
