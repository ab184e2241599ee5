package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w") and match with errors.Is.
var (
	// Configuration errors
	ErrConfigInvalid     = errors.New("dgawatch: invalid configuration")
	ErrInvalidConnString = errors.New("dgawatch: invalid broker connection string")

	// Lifecycle errors
	ErrCancelled   = errors.New("dgawatch: pipeline cancelled")
	ErrQueueClosed = errors.New("dgawatch: queue closed")

	// Capture errors
	ErrCaptureFailed = errors.New("dgawatch: capture failed")
	ErrSourceDrained = errors.New("dgawatch: capture source drained")

	// Extraction errors
	ErrMalformedPacket = errors.New("dgawatch: malformed packet")
	ErrNotDNS          = errors.New("dgawatch: not a dns payload")

	// External collaborator errors
	ErrRetriesExhausted = errors.New("dgawatch: retries exhausted")
	ErrStoreUnavailable = errors.New("dgawatch: reputation store unavailable")
	ErrPublishFailed    = errors.New("dgawatch: publish failed")
	ErrPublishNacked    = errors.New("dgawatch: publish not acknowledged")
	ErrPublishTimeout   = errors.New("dgawatch: publish confirmation timeout")
)
