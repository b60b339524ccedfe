package blockstore

import "errors"

var (
	// ErrDuplicateBlockHash is returned when inserting a block whose hash is
	// already present.
	ErrDuplicateBlockHash = errors.New("block with the same hash already exists")

	// ErrDuplicateBlockNumber is returned when inserting a block whose number
	// is already present.
	ErrDuplicateBlockNumber = errors.New("block with the same number already exists")

	// ErrDuplicateReceipt is returned when inserting a receipt whose
	// transaction hash is already present. No receipt of the batch is
	// admitted.
	ErrDuplicateReceipt = errors.New("receipt with the same transaction hash already exists")

	// ErrZeroReservation is returned when reserving an empty range.
	ErrZeroReservation = errors.New("reservation must cover at least one block")

	// ErrInvariantViolation signals that neither a block nor a reservation
	// covers a number at or below the chain head. It indicates a programmer
	// error, not a recoverable condition.
	ErrInvariantViolation = errors.New("no block or reservation covers the block number")
)
