package blockstore

import (
	"context"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	badger4 "github.com/ipfs/go-ds-badger4"

	"github.com/ipfs/go-cid"
)

// keyPrefix namespaces every block under its own datastore subtree, so a
// Badger instance shared with other state (the way ues-lite shares one
// datastore across subsystems) never collides with block keys.
const keyPrefix = "/blocks"

func blockKey(c cid.Cid) ds.Key {
	return ds.NewKey(keyPrefix).ChildString(c.String())
}

// BadgerStore is a Store backed by a Badger-backed datastore, durable across
// process restarts. It has the same put/get/conflict semantics as Memory;
// the only difference is where the bytes live.
type BadgerStore struct {
	ds *badger4.Datastore
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (creating if absent) a Badger datastore at path.
// Pass nil for opts to use badger4's defaults.
func OpenBadgerStore(path string, opts *badger4.Options) (*BadgerStore, error) {
	d, err := badger4.NewDatastore(path, opts)
	if err != nil {
		return nil, fmt.Errorf("blockstore: open badger store: %w", err)
	}
	return &BadgerStore{ds: d}, nil
}

func (b *BadgerStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := b.ds.Get(ctx, blockKey(c))
	if err != nil {
		if errors.Is(err, ds.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *BadgerStore) Put(ctx context.Context, c cid.Cid, data []byte) error {
	key := blockKey(c)
	existing, err := b.ds.Get(ctx, key)
	switch {
	case errors.Is(err, ds.ErrNotFound):
		// fall through to write below
	case err != nil:
		return err
	default:
		if string(existing) == string(data) {
			return nil
		}
		return ErrConflict
	}
	return b.ds.Put(ctx, key, data)
}

func (b *BadgerStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return b.ds.Has(ctx, blockKey(c))
}

func (b *BadgerStore) Delete(ctx context.Context, c cid.Cid) error {
	return b.ds.Delete(ctx, blockKey(c))
}

// Close releases the underlying Badger handles. It does not implement
// Store; callers that opened a BadgerStore own its lifetime.
func (b *BadgerStore) Close() error {
	return b.ds.Close()
}
