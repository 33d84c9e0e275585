// Package blockstore provides the content-addressed block storage layer the
// MST engine is built on. A Store maps a CID to the immutable bytes it
// addresses; values are never mutated in place, only added or removed.
package blockstore

import (
	"context"
	"fmt"

	"github.com/gloudx/mstengine/errs"
	"github.com/ipfs/go-cid"
)

// ErrNotFound is returned when a CID has no corresponding block. Aliased
// to errs.ErrKeyNotFound rather than redeclared, so callers can match on
// whichever import they already have in scope.
var ErrNotFound = errs.ErrKeyNotFound

// ErrConflict is returned by Put when a CID already maps to different
// bytes. Because a CID is the hash of its bytes this should never happen
// for a correctly computed CID; it exists to catch a caller passing a
// stale or forged CID alongside unrelated data.
var ErrConflict = errs.ErrDuplicateBlockConflict

// Store is a content-addressed key/value store: keys are CIDs, values are
// immutable byte strings. Writing the same (cid, bytes) pair twice is a nop;
// writing different bytes under an existing cid is an error.
type Store interface {
	// Get returns the bytes stored under c, or ErrNotFound.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)

	// Put stores data under c. Idempotent when data matches what is already
	// stored; returns ErrConflict otherwise.
	Put(ctx context.Context, c cid.Cid, data []byte) error

	// Has reports whether c has a stored value.
	Has(ctx context.Context, c cid.Cid) (bool, error)

	// Delete removes c's value, if present. Deleting an absent key is a nop.
	Delete(ctx context.Context, c cid.Cid) error
}

// NewBlockCID derives the CID for a node's serialized bytes: CIDv1,
// codec dag-cbor (0x71), multihash sha2-256.
func NewBlockCID(data []byte) (cid.Cid, error) {
	pfx := cid.Prefix{
		Version:  1,
		Codec:    cid.DagCBOR,
		MhType:   mhSHA256,
		MhLength: -1,
	}
	c, err := pfx.Sum(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("blockstore: compute cid: %w", err)
	}
	return c, nil
}
