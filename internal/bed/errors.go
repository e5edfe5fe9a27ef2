package bed

import "errors"

// Domain errors for the bed package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, bed.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a bed ID or address does not exist.
	ErrNotFound = errors.New("bed: not found")

	// ErrExists is returned when creating a bed with an address that is
	// already registered.
	ErrExists = errors.New("bed: already exists")

	// ErrInvalidAddress is returned when address validation fails.
	ErrInvalidAddress = errors.New("bed: invalid address")

	// ErrInvalidName is returned when a bed name is empty or too long.
	ErrInvalidName = errors.New("bed: invalid name")

	// ErrUnknownCommand is returned when a command name has no codec entry.
	// No I/O is attempted for unknown commands.
	ErrUnknownCommand = errors.New("bed: unknown command")

	// ErrNotHoldable is returned when a hold is requested for a command
	// that is not a continuous movement.
	ErrNotHoldable = errors.New("bed: command is not holdable")

	// ErrConnectionFailed is returned when a connection attempt fails or
	// times out. The session remains usable; the next send retries.
	ErrConnectionFailed = errors.New("bed: connection failed")

	// ErrWriteFailed is returned when a characteristic write fails.
	// The session is invalidated and reconnects on the next send.
	ErrWriteFailed = errors.New("bed: write failed")

	// ErrNotConnected is returned when an operation requires a live link
	// and none is available.
	ErrNotConnected = errors.New("bed: not connected")

	// ErrClosed is returned when operating on a closed session or registry.
	ErrClosed = errors.New("bed: closed")
)
