package blockstore

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Overlay layers a writable upper Store over a read-only (or shared) lower
// Store. Reads check upper first, falling back to lower; writes and deletes
// only ever touch upper. This lets a caller stage mutations against a
// shared base (e.g. an Archive) without copying it.
type Overlay struct {
	upper Store
	lower Store
}

var _ Store = (*Overlay)(nil)

// NewOverlay returns a Store that reads through upper then lower, and writes
// only to upper.
func NewOverlay(upper, lower Store) *Overlay {
	return &Overlay{upper: upper, lower: lower}
}

func (o *Overlay) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := o.upper.Get(ctx, c)
	if err == nil {
		return data, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	return o.lower.Get(ctx, c)
}

func (o *Overlay) Put(ctx context.Context, c cid.Cid, data []byte) error {
	return o.upper.Put(ctx, c, data)
}

func (o *Overlay) Has(ctx context.Context, c cid.Cid) (bool, error) {
	ok, err := o.upper.Has(ctx, c)
	if err != nil || ok {
		return ok, err
	}
	return o.lower.Has(ctx, c)
}

func (o *Overlay) Delete(ctx context.Context, c cid.Cid) error {
	return o.upper.Delete(ctx, c)
}
