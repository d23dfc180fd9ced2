package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mio-data/capturefile/internal/pager"
)

/*
The first page of a capture file carries its permanent configuration.
All integers in the file are little-endian.

---------------------------------------------------------------------------
| magic(11) | pad(1) | version(4) | page_size(4) | block_size(4) | fan_out(4) |
---------------------------------------------------------------------------

The remainder of the page is reserved. Two master-node slots of
2*page_size + compression_block_size bytes each follow at page_size and
page_size + slot size; record data begins after them.
*/
const (
	magicCaptureFile = "MioCapture\x00"
	// magicLegacy is the header's earlier spelling; such files are still
	// readable.
	magicLegacy = "WebCapture\x00"

	currentVersion = 2

	defaultPageSize             = 4096
	defaultCompressionBlockSize = 32768
	defaultFanOut               = 32

	// A freshly created file is padded out to this many pages to keep
	// incremental appends from fragmenting it.
	initialPages = 100

	// A persisted full index node entry: one height byte plus coordinates.
	fullNodeEntrySize = 1 + coordinateSize

	headerSize = 28

	offVersion   = 12
	offPageSize  = 16
	offBlockSize = 20
	offFanOut    = 24
)

// fileConfig holds the per-file constants recorded in the header, plus the
// positions derived from them.
type fileConfig struct {
	version              uint32
	pageSize             int
	compressionBlockSize int
	fanOut               int

	masterSize int64
	masterPos  [2]int64
	dataStart  int64
}

func newFileConfig(pageSize, blockSize, fanOut int) fileConfig {
	cfg := fileConfig{
		version:              currentVersion,
		pageSize:             pageSize,
		compressionBlockSize: blockSize,
		fanOut:               fanOut,
	}
	cfg.derive()
	return cfg
}

func (c *fileConfig) derive() {
	c.masterSize = 2*int64(c.pageSize) + int64(c.compressionBlockSize)
	c.masterPos[0] = int64(c.pageSize)
	c.masterPos[1] = int64(c.pageSize) + c.masterSize
	c.dataStart = 2*int64(c.pageSize) + 2*c.masterSize
}

// encode returns the full first page of the file.
func (c fileConfig) encode() []byte {
	page := make([]byte, c.pageSize)
	copy(page, magicCaptureFile)
	binary.LittleEndian.PutUint32(page[offVersion:], c.version)
	binary.LittleEndian.PutUint32(page[offPageSize:], uint32(c.pageSize))
	binary.LittleEndian.PutUint32(page[offBlockSize:], uint32(c.compressionBlockSize))
	binary.LittleEndian.PutUint32(page[offFanOut:], uint32(c.fanOut))
	return page
}

// readFileConfig reads and validates the header of an existing file.
func readFileConfig(f *pager.File) (fileConfig, error) {
	buf, err := f.ReadAt(0, headerSize)
	if err != nil {
		return fileConfig{}, fmt.Errorf("%w: unreadable header: %v", ErrInvalidCaptureFile, err)
	}

	magic := buf[:len(magicCaptureFile)]
	if !bytes.Equal(magic, []byte(magicCaptureFile)) && !bytes.Equal(magic, []byte(magicLegacy)) {
		return fileConfig{}, fmt.Errorf("%w: bad magic", ErrInvalidCaptureFile)
	}

	cfg := fileConfig{
		version:              binary.LittleEndian.Uint32(buf[offVersion:]),
		pageSize:             int(binary.LittleEndian.Uint32(buf[offPageSize:])),
		compressionBlockSize: int(binary.LittleEndian.Uint32(buf[offBlockSize:])),
		fanOut:               int(binary.LittleEndian.Uint32(buf[offFanOut:])),
	}
	if cfg.version > currentVersion {
		return fileConfig{}, fmt.Errorf("%w: version %d is newer than supported version %d",
			ErrInvalidCaptureFile, cfg.version, currentVersion)
	}
	if cfg.pageSize < headerSize || cfg.compressionBlockSize < 1 || cfg.fanOut < 2 {
		return fileConfig{}, fmt.Errorf("%w: nonsensical configuration values", ErrInvalidCaptureFile)
	}
	cfg.derive()
	return cfg, nil
}
