package store

import "errors"

// Sentinel errors per the taxonomy: callers use errors.Is to classify
// a failure without depending on its wrapped detail.
var (
	// ErrInvalidArgument is raised for an argument outside its valid
	// range, such as a negative length passed to Pager.SetLength.
	// State is left unchanged.
	ErrInvalidArgument = errors.New("recordstore: invalid argument")

	// ErrOutOfBounds is raised when read_record is asked for an id at or
	// past the store's logical end: the active transaction's watermark
	// inside a transaction, otherwise the store's watermark, which
	// includes committed records not yet checkpointed to the data file.
	ErrOutOfBounds = errors.New("recordstore: record id out of bounds")

	// ErrIO wraps an underlying file error from the pager or the journal.
	ErrIO = errors.New("recordstore: io error")

	// ErrNoActiveTransaction is raised by operations that require an
	// active transaction (update_record) when none is open.
	ErrNoActiveTransaction = errors.New("recordstore: no active transaction")
)
