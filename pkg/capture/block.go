package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/klauspost/compress/zlib"
)

// blockBuffer stages uncompressed bytes destined for the next compression
// block. Its nominal file position is the current file limit, so
// coordinates handed out while staging remain valid once the block is
// compressed and appended there.
//
// A length-prefixed payload is always staged whole before the full-block
// check runs, so the buffer may temporarily exceed the nominal block size
// and no payload ever straddles two compressed blocks.
type blockBuffer struct {
	buf bytes.Buffer
}

func (b *blockBuffer) len() int {
	return b.buf.Len()
}

func (b *blockBuffer) bytes() []byte {
	return b.buf.Bytes()
}

func (b *blockBuffer) reset(contents []byte) {
	b.buf.Reset()
	b.buf.Write(contents)
}

// writeSized appends a u32 length prefix followed by the payload.
func (b *blockBuffer) writeSized(p []byte) {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(p)))
	b.buf.Write(size[:])
	b.buf.Write(p)
}

func (b *blockBuffer) writeByte(v byte) {
	b.buf.WriteByte(v)
}

func (b *blockBuffer) writeCoordinates(c DataCoordinates) {
	var enc [coordinateSize]byte
	c.encode(enc[:])
	b.buf.Write(enc[:])
}

// compressBlock compresses one staging block into a single zlib stream.
func compressBlock(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	zw, err := zlib.NewWriterLevel(&out, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("error creating compressor: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("error compressing block: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("error finishing compressed block: %w", err)
	}
	return out.Bytes(), nil
}

// decompressBlock inflates one compressed block back to its staged bytes.
func decompressBlock(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable compressed block: %v", ErrInvalidCaptureFile, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated compressed block: %v", ErrInvalidCaptureFile, err)
	}
	return raw, nil
}

const blockCacheBudget = 64 << 20

// newBlockCache builds the cache of decompressed blocks keyed by block file
// position. Committed blocks are immutable in an append-only file, so
// entries never go stale; the one mutable block (the staging buffer) is
// served directly and never cached.
func newBlockCache() (*ristretto.Cache[uint64, []byte], error) {
	return ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: 1e4,
		MaxCost:     blockCacheBudget,
		BufferItems: 64,
	})
}
