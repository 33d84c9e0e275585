package blockstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"

	"github.com/gloudx/mstengine/errs"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/multiformats/go-multihash"
)

// ErrArchiveReadOnly is returned by Put/Delete on an Archive.
var ErrArchiveReadOnly = errors.New("blockstore: archive is read-only")

// ArchiveHeader is the first frame of an archive file: a DAG-CBOR map naming
// the format version and the root CID(s) it was built from.
type ArchiveHeader struct {
	Version int64
	Roots   []cid.Cid
}

type blockSpan struct {
	offset int64
	length int64
}

// Archive is a read-only Store over a CAR-like file: a sequence of
// varint-length-prefixed frames. The first frame is a DAG-CBOR header; every
// frame after it is `cid bytes ++ block bytes`. The file is scanned once on
// open to index each block's offset and length; only the spans are kept, and
// a block's bytes are read again, and their hash checked against the CID, on
// demand in Get.
type Archive struct {
	mu     sync.Mutex
	f      *os.File
	header ArchiveHeader
	index  map[cid.Cid]blockSpan
}

var _ Store = (*Archive)(nil)

// OpenArchive scans path, indexing every block's location. Each frame is
// read whole to parse its CID, but only the block's offset and length are
// kept; block hashes are not checked until Get.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	a := &Archive{f: f, index: make(map[cid.Cid]blockSpan)}
	if err := a.scan(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// countingReader reads a file (varint bytes one at a time, frames whole)
// while tracking the absolute offset, so block spans recorded during the
// scan can be seeked back to.
type countingReader struct {
	f *os.File
	n int64
}

func (r *countingReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r.f, b[:]); err != nil {
		return 0, err
	}
	r.n++
	return b[0], nil
}

func (r *countingReader) readN(n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.f, buf); err != nil {
		return nil, err
	}
	r.n += n
	return buf, nil
}

func (a *Archive) scan() error {
	if _, err := a.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := &countingReader{f: a.f}

	headerLen, err := decodeVarint(r)
	if err != nil {
		return fmt.Errorf("%w: header length: %v", errs.ErrMalformedArchive, err)
	}
	headerBytes, err := r.readN(int64(headerLen))
	if err != nil {
		return fmt.Errorf("%w: truncated header: %v", errs.ErrMalformedArchive, err)
	}
	header, err := decodeArchiveHeader(headerBytes)
	if err != nil {
		return err
	}
	a.header = header

	for {
		length, err := decodeVarint(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: block length: %v", errs.ErrMalformedArchive, err)
		}
		frameStart := r.n
		frame, err := r.readN(int64(length))
		if err != nil {
			return fmt.Errorf("%w: truncated block: %v", errs.ErrMalformedArchive, err)
		}
		c, n, err := cid.CidFromBytes(frame)
		if err != nil {
			return fmt.Errorf("%w: bad cid prefix: %v", errs.ErrMalformedArchive, err)
		}
		if !isSupportedCID(c) {
			return fmt.Errorf("%w: unsupported cid type %s", errs.ErrMalformedArchive, c)
		}
		a.index[c] = blockSpan{offset: frameStart + int64(n), length: int64(len(frame) - n)}
	}
	return nil
}

// isSupportedCID enforces the archive's CID type rather than assuming every
// block's CID is a fixed length: a CID whose digest isn't 32 bytes would
// silently corrupt the span table.
func isSupportedCID(c cid.Cid) bool {
	if c.Version() != 1 || c.Type() != cid.DagCBOR {
		return false
	}
	dmh, err := multihash.Decode(c.Hash())
	if err != nil {
		return false
	}
	return dmh.Code == mhSHA256 && dmh.Length == 32
}

// Header returns the decoded archive header.
func (a *Archive) Header() ArchiveHeader {
	return a.header
}

// Root returns the archive's first root CID, or cid.Undef if it has none.
func (a *Archive) Root() cid.Cid {
	if len(a.header.Roots) == 0 {
		return cid.Undef
	}
	return a.header.Roots[0]
}

// Close releases the underlying file handle.
func (a *Archive) Close() error {
	return a.f.Close()
}

func (a *Archive) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span, ok := a.index[c]
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := a.f.Seek(span.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, span.length)
	if _, err := io.ReadFull(a.f, data); err != nil {
		return nil, fmt.Errorf("%w: truncated block body: %v", errs.ErrMalformedArchive, err)
	}
	dmh, err := multihash.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: bad cid hash: %v", errs.ErrMalformedArchive, err)
	}
	sum := sha256.Sum256(data)
	if !bytes.Equal(sum[:], dmh.Digest) {
		return nil, fmt.Errorf("%w: hash mismatch for %s", errs.ErrMalformedArchive, c)
	}
	return data, nil
}

func (a *Archive) Has(_ context.Context, c cid.Cid) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.index[c]
	return ok, nil
}

func (a *Archive) Put(context.Context, cid.Cid, []byte) error {
	return ErrArchiveReadOnly
}

func (a *Archive) Delete(context.Context, cid.Cid) error {
	return ErrArchiveReadOnly
}

func decodeArchiveHeader(b []byte) (ArchiveHeader, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(b)); err != nil {
		return ArchiveHeader{}, fmt.Errorf("%w: header: %v", errs.ErrMalformedArchive, err)
	}
	node := nb.Build()
	if node.Kind() != datamodel.Kind_Map {
		return ArchiveHeader{}, fmt.Errorf("%w: header is not a map", errs.ErrMalformedArchive)
	}

	versionNode, err := node.LookupByString("version")
	if err != nil {
		return ArchiveHeader{}, fmt.Errorf("%w: header has no version: %v", errs.ErrMalformedArchive, err)
	}
	version, err := versionNode.AsInt()
	if err != nil {
		return ArchiveHeader{}, fmt.Errorf("%w: header version is not an int: %v", errs.ErrMalformedArchive, err)
	}
	if version != 1 {
		return ArchiveHeader{}, fmt.Errorf("%w: unsupported header version %d", errs.ErrMalformedArchive, version)
	}

	rootsNode, err := node.LookupByString("roots")
	if err != nil {
		return ArchiveHeader{}, fmt.Errorf("%w: header has no roots: %v", errs.ErrMalformedArchive, err)
	}
	if rootsNode.Kind() != datamodel.Kind_List {
		return ArchiveHeader{}, fmt.Errorf("%w: header roots is not a list", errs.ErrMalformedArchive)
	}
	var roots []cid.Cid
	it := rootsNode.ListIterator()
	for !it.Done() {
		_, v, err := it.Next()
		if err != nil {
			return ArchiveHeader{}, fmt.Errorf("%w: header roots: %v", errs.ErrMalformedArchive, err)
		}
		lnk, err := v.AsLink()
		if err != nil {
			return ArchiveHeader{}, fmt.Errorf("%w: header root is not a link: %v", errs.ErrMalformedArchive, err)
		}
		cl, ok := lnk.(cidlink.Link)
		if !ok {
			return ArchiveHeader{}, fmt.Errorf("%w: header root link is not a cid", errs.ErrMalformedArchive)
		}
		roots = append(roots, cl.Cid)
	}
	if len(roots) == 0 {
		return ArchiveHeader{}, fmt.Errorf("%w: header has no roots", errs.ErrMalformedArchive)
	}
	return ArchiveHeader{Version: version, Roots: roots}, nil
}

func encodeArchiveHeader(h ArchiveHeader) ([]byte, error) {
	nb := basicnode.Prototype.Map.NewBuilder()
	ma, err := nb.BeginMap(2)
	if err != nil {
		return nil, err
	}
	if err := ma.AssembleKey().AssignString("roots"); err != nil {
		return nil, err
	}
	la, err := ma.AssembleValue().BeginList(int64(len(h.Roots)))
	if err != nil {
		return nil, err
	}
	for _, r := range h.Roots {
		if err := la.AssembleValue().AssignLink(cidlink.Link{Cid: r}); err != nil {
			return nil, err
		}
	}
	if err := la.Finish(); err != nil {
		return nil, err
	}
	if err := ma.AssembleKey().AssignString("version"); err != nil {
		return nil, err
	}
	if err := ma.AssembleValue().AssignInt(h.Version); err != nil {
		return nil, err
	}
	if err := ma.Finish(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dagcbor.Encode(nb.Build(), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFrame(w io.Writer, payload []byte) error {
	lenBytes, err := encodeVarint(uint64(len(payload)))
	if err != nil {
		return err
	}
	if _, err := w.Write(lenBytes); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// WriteArchive emits an archive file to w: the header naming root, then one
// frame per (cid, bytes) pair from blocks in iteration order. It does not
// deduplicate or filter — callers wanting a compacted archive (as
// `mstcli compact` does) should drive blocks from a Walker's iter_nodes plus
// referenced value CIDs and dedupe before calling this.
func WriteArchive(w io.Writer, root cid.Cid, blocks iter.Seq2[cid.Cid, []byte]) error {
	headerBytes, err := encodeArchiveHeader(ArchiveHeader{Version: 1, Roots: []cid.Cid{root}})
	if err != nil {
		return fmt.Errorf("blockstore: encode archive header: %w", err)
	}
	if err := writeFrame(w, headerBytes); err != nil {
		return fmt.Errorf("blockstore: write archive header: %w", err)
	}
	for c, data := range blocks {
		payload := make([]byte, 0, len(c.Bytes())+len(data))
		payload = append(payload, c.Bytes()...)
		payload = append(payload, data...)
		if err := writeFrame(w, payload); err != nil {
			return fmt.Errorf("blockstore: write block %s: %w", c, err)
		}
	}
	return nil
}
