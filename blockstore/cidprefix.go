package blockstore

import "github.com/multiformats/go-multihash"

// mhSHA256 is the multihash code for sha2-256, the only hash function this
// engine's CIDs use.
const mhSHA256 = multihash.SHA2_256
