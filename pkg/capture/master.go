package capture

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

/*
A master node records a committed state of the capture file. Two fixed-size
slots alternate on each commit so that a torn write can never destroy the
last committed state.

Slot layout (slot size = 2*page_size + compression_block_size):

	page 0: | crc(4) | serial(4) | file_limit(8) | block_len(4) | metadata(12) | rightmost path | zero pad |
	page 1: copy of the partial data page containing file_limit
	then:   compression_block_size bytes of staged uncompressed data (block_len valid)

The CRC covers every byte of the slot after the CRC field itself.
*/
const (
	offSerial    = 4
	offFileLimit = 8
	offBlockLen  = 16
	offMetadata  = 20
	offPath      = 32
)

type masterNode struct {
	serial    uint32
	fileLimit int64
	metadata  DataCoordinates
	path      *rightmostPath

	// lastPage mirrors the bytes of the page containing fileLimit. Only
	// whole pages are ever appended to the data region, so the trailing
	// partial page exists here (and in the committed slot) until it fills.
	lastPage []byte

	// block is the staged compression-block contents as of the last
	// commit or refresh.
	block []byte
}

// slotPos returns where this master node is written: slot serial mod 2.
func (m *masterNode) slotPos(cfg fileConfig) int64 {
	return cfg.masterPos[m.serial%2]
}

// serialNewer reports whether a is newer than b under wrap-aware
// comparison: a is newer iff (a - b) mod 2^32 lies in (0, 2^31).
func serialNewer(a, b uint32) bool {
	d := a - b
	return d != 0 && d < 1<<31
}

func (m *masterNode) encode(cfg fileConfig) ([]byte, error) {
	if offPath+m.path.encodedSize() > cfg.pageSize {
		return nil, fmt.Errorf("rightmost path of %d children does not fit in one page", m.path.childTotal())
	}
	if len(m.block) > cfg.compressionBlockSize {
		return nil, fmt.Errorf("staged block of %d bytes exceeds the compression block size", len(m.block))
	}

	slot := make([]byte, cfg.masterSize)
	binary.LittleEndian.PutUint32(slot[offSerial:], m.serial)
	binary.LittleEndian.PutUint64(slot[offFileLimit:], uint64(m.fileLimit))
	binary.LittleEndian.PutUint32(slot[offBlockLen:], uint32(len(m.block)))
	m.metadata.encode(slot[offMetadata:])
	m.path.encodeTo(slot[offPath:])

	copy(slot[cfg.pageSize:], m.lastPage)
	copy(slot[2*cfg.pageSize:], m.block)

	binary.LittleEndian.PutUint32(slot, crc32.ChecksumIEEE(slot[4:]))
	return slot, nil
}

// decodeMaster parses one slot. It returns nil when the stored CRC does not
// match the contents or the fields are inconsistent, which is how a torn
// master write is detected and ignored.
func decodeMaster(slot []byte, cfg fileConfig) *masterNode {
	if int64(len(slot)) != cfg.masterSize {
		return nil
	}
	if binary.LittleEndian.Uint32(slot) != crc32.ChecksumIEEE(slot[4:]) {
		return nil
	}

	blockLen := int(binary.LittleEndian.Uint32(slot[offBlockLen:]))
	if blockLen > cfg.compressionBlockSize {
		return nil
	}
	path, ok := decodeRightmostPath(slot[offPath:cfg.pageSize])
	if !ok {
		return nil
	}

	return &masterNode{
		serial:    binary.LittleEndian.Uint32(slot[offSerial:]),
		fileLimit: int64(binary.LittleEndian.Uint64(slot[offFileLimit:])),
		metadata:  decodeCoordinates(slot[offMetadata:]),
		path:      path,
		lastPage:  append([]byte(nil), slot[cfg.pageSize:2*cfg.pageSize]...),
		block:     append([]byte(nil), slot[2*cfg.pageSize:2*cfg.pageSize+blockLen]...),
	}
}

// pickMaster chooses the current master from the two decoded slots: the
// valid one, or when both are valid, the one with the newer serial.
func pickMaster(a, b *masterNode) *masterNode {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case serialNewer(b.serial, a.serial):
		return b
	default:
		return a
	}
}
