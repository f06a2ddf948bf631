package common

import "errors"

var (
	// ErrClosed is returned by any operation on an index that has been
	// closed, either deliberately or because a prior I/O failure poisoned
	// it (see btree.Index for the poison policy).
	ErrClosed = errors.New("index is closed")

	// ErrInvalidKeySize and ErrInvalidValueSize guard the "trivially
	// copyable into a fixed-size slot" contract callers must honor.
	ErrInvalidKeySize   = errors.New("key does not match the configured key size")
	ErrInvalidValueSize = errors.New("value does not match the configured value size")

	// ErrCorruptFile is returned when a page fails to decode (wrong page
	// type or size), or when only one of the tree and data files exists
	// on open. A bad header magic is reported with a separate error.
	ErrCorruptFile = errors.New("corrupt index file")
)
