// Package errs collects the sentinel error kinds shared across the engine's
// packages. Each is a plain sentinel so callers can test with errors.Is;
// wrapping with fmt.Errorf("%w", ...) is expected at call sites that want
// to attach context.
package errs

import "errors"

var (
	// ErrKeyNotFound is returned by a BlockStore lookup miss.
	ErrKeyNotFound = errors.New("mst: key not found")

	// ErrDuplicateBlockConflict is returned when a Put targets an existing
	// key with bytes that differ from what is already stored.
	ErrDuplicateBlockConflict = errors.New("mst: duplicate block conflict")

	// ErrMalformedNode is returned when node bytes violate the canonical
	// serialization constraints.
	ErrMalformedNode = errors.New("mst: malformed node")

	// ErrMalformedArchive is returned when an archive file's framing,
	// header, or per-block hash fails validation.
	ErrMalformedArchive = errors.New("mst: malformed archive")

	// ErrInvalidProof is returned when proof verification fails, either
	// because a referenced block is missing or the claimed rpath presence
	// doesn't match what the witness actually shows.
	ErrInvalidProof = errors.New("mst: invalid proof")

	// ErrProofError is returned when building an inclusion proof for an
	// absent record, or an exclusion proof for a present one.
	ErrProofError = errors.New("mst: proof error")

	// ErrCursorMisuse is returned by Walker moves used incorrectly: down()
	// on a null subtree, or right() past the last slot.
	ErrCursorMisuse = errors.New("mst: cursor misuse")
)
