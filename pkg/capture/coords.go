package capture

import "encoding/binary"

// coordinateSize is the encoded width of DataCoordinates: a u64 block
// position followed by a u32 offset, both little-endian.
const coordinateSize = 12

// DataCoordinates addresses a piece of data inside a capture file along two
// axes: the absolute file position of the compressed block holding it, and
// the position of the data within that block's uncompressed bytes.
//
// The block currently being staged in memory is addressed as if it already
// lived at the file limit, so coordinates taken while staging stay valid
// after the block is compressed and flushed.
type DataCoordinates struct {
	BlockPos uint64
	Offset   uint32
}

// IsNull reports whether both axes are zero, the encoding for "no data"
// used by the metadata pointer.
func (c DataCoordinates) IsNull() bool {
	return c.BlockPos == 0 && c.Offset == 0
}

func (c DataCoordinates) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], c.BlockPos)
	binary.LittleEndian.PutUint32(b[8:12], c.Offset)
}

func decodeCoordinates(b []byte) DataCoordinates {
	return DataCoordinates{
		BlockPos: binary.LittleEndian.Uint64(b[0:8]),
		Offset:   binary.LittleEndian.Uint32(b[8:12]),
	}
}
