package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/zerodha/logf"

	"github.com/mio-data/capturefile/internal/pager"
)

// maxRecordSize is the largest payload a u32 length prefix can describe.
const maxRecordSize = 1<<32 - 1

// CaptureFile is a handle on an append-only, transactional, compressed
// record log. Records are addressed by their 1-based sequence number and
// fetched in O(log N) block reads through a right-spine index whose mutable
// part lives entirely in the master node.
//
// One writer and any number of readers may share a file, across threads and
// processes. A handle itself is serialized by its embedded mutex; readers
// each carry their own snapshot of the committed state and pick up later
// commits with Refresh.
type CaptureFile struct {
	sync.Mutex

	lo   logf.Logger
	opts *Options

	path    string
	absPath string

	file *pager.File // nil when the handle is closed
	cfg  fileConfig

	writeMode bool

	master  *masterNode
	staging blockBuffer
	count   uint64

	metadata       []byte
	metadataLoaded bool

	blocks *ristretto.Cache[uint64, []byte]
}

// initLogger initializes logger instance.
func initLogger(debug bool) logf.Logger {
	opts := logf.Opts{EnableCaller: true}
	if debug {
		opts.Level = logf.DebugLevel
	}
	return logf.New(opts)
}

// Open opens the capture file at path. A missing file is created when
// opening for write; WithForceNewEmptyFile replaces any existing file with
// a fresh empty one, committed with the configured initial metadata.
func Open(path string, options ...Config) (*CaptureFile, error) {
	opts := DefaultOptions()
	for _, apply := range options {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving path %q: %w", path, err)
	}

	cf := &CaptureFile{
		lo:      initLogger(opts.debug),
		opts:    opts,
		path:    path,
		absPath: absPath,
	}

	if opts.write {
		if err := acquireWritePath(absPath); err != nil {
			return nil, err
		}
	}
	opened := false
	defer func() {
		if !opened && opts.write {
			releaseWritePath(absPath)
		}
	}()

	if opts.forceNewEmptyFile || (opts.write && !exists(absPath)) {
		if err := cf.createNewFile(); err != nil {
			return nil, err
		}
	}
	if err := cf.open(); err != nil {
		return nil, err
	}

	opened = true
	return cf, nil
}

// exists returns true if the given path exists on the filesystem.
func exists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return true
}

// createNewFile builds a fresh capture file in a temporary file and renames
// it into place, so a partially constructed file can never appear at the
// target path. The initial empty state is committed twice so both master
// slots hold a valid state from the start.
func (cf *CaptureFile) createNewFile() error {
	cfg := newFileConfig(cf.opts.pageSize, cf.opts.compressionBlockSize, cf.opts.fanOut)

	tmp, err := os.CreateTemp(filepath.Dir(cf.absPath), filepath.Base(cf.absPath)+".tmp")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	f, err := pager.Open(tmpName, true)
	if err != nil {
		return err
	}

	cf.file = f
	cf.cfg = cfg
	cf.writeMode = true
	cf.master = &masterNode{
		fileLimit: cfg.dataStart,
		path:      &rightmostPath{},
		lastPage:  make([]byte, cfg.pageSize),
	}
	cf.staging.reset(nil)
	cf.count = 0
	defer func() {
		if cf.file != nil {
			cf.file.Close()
			cf.file = nil
		}
		cf.master = nil
	}()

	if err := f.WriteAt(0, cfg.encode()); err != nil {
		return err
	}
	if cf.opts.initialMetadata != nil {
		if err := cf.setMetadataLocked(cf.opts.initialMetadata); err != nil {
			return err
		}
	}
	if err := cf.commitLocked(); err != nil {
		return err
	}
	if err := cf.commitLocked(); err != nil {
		return err
	}

	if err := f.Grow(int64(initialPages) * int64(cfg.pageSize)); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("error syncing new capture file: %w", err)
	}
	if err := f.Close(); err != nil {
		cf.file = nil
		return fmt.Errorf("error closing new capture file: %w", err)
	}
	cf.file = nil

	if err := os.Rename(tmpName, cf.absPath); err != nil {
		return fmt.Errorf("error moving new capture file into place: %w", err)
	}
	cf.lo.Debug("created capture file", "path", cf.path,
		"page_size", cfg.pageSize, "block_size", cfg.compressionBlockSize, "fan_out", cfg.fanOut)
	return nil
}

func (cf *CaptureFile) open() error {
	f, err := pager.Open(cf.absPath, cf.opts.write)
	if err != nil {
		return err
	}

	if cf.opts.write && cf.opts.osLocking {
		if err := lockWriteOwner(f); err != nil {
			f.Close()
			return err
		}
	}

	cfg, err := readFileConfig(f)
	if err != nil {
		f.Close()
		return err
	}

	blocks, err := newBlockCache()
	if err != nil {
		f.Close()
		return fmt.Errorf("error creating block cache: %w", err)
	}

	cf.file = f
	cf.cfg = cfg
	cf.writeMode = cf.opts.write
	cf.blocks = blocks

	if err := cf.refreshLocked(); err != nil {
		cf.teardownLocked()
		return err
	}
	if cf.writeMode {
		if err := cf.recoverPartialPage(); err != nil {
			cf.teardownLocked()
			return err
		}
	}

	cf.lo.Debug("opened capture file", "path", cf.path, "write", cf.writeMode,
		"records", cf.count, "serial", cf.master.serial)
	return nil
}

func (cf *CaptureFile) teardownLocked() {
	if cf.file != nil {
		cf.file.Close()
		cf.file = nil
	}
	if cf.blocks != nil {
		cf.blocks.Close()
		cf.blocks = nil
	}
	cf.master = nil
}

// Close closes the handle, discarding any records added or metadata set
// since the last commit, and releases the writer locks. Closing a closed
// handle does nothing.
func (cf *CaptureFile) Close() error {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return nil
	}

	if cf.writeMode && cf.opts.osLocking {
		if err := unlockWriteOwner(cf.file); err != nil {
			cf.lo.Error("error releasing writer lock", "error", err)
		}
	}

	err := cf.file.Close()
	cf.file = nil
	if cf.blocks != nil {
		cf.blocks.Close()
		cf.blocks = nil
	}
	if cf.writeMode {
		releaseWritePath(cf.absPath)
	}

	if err != nil {
		return fmt.Errorf("error closing capture file: %w", err)
	}
	return nil
}

// Refresh re-reads the master nodes so the handle reflects commits made
// since it was opened or last refreshed. Iterators created earlier keep
// serving the snapshot they were created under.
func (cf *CaptureFile) Refresh() error {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return ErrNotOpen
	}
	return cf.refreshLocked()
}

func (cf *CaptureFile) refreshLocked() error {
	var master *masterNode
	for attempt := 0; attempt < 2; attempt++ {
		m, err := cf.readCurrentMaster()
		if err != nil {
			return err
		}
		if m != nil {
			master = m
			break
		}
		// A commit in another process can leave one slot mid-write while
		// the other was hit by an earlier torn write; look once more
		// before declaring the file corrupt.
		cf.lo.Debug("no valid master node found, retrying", "attempt", attempt)
	}
	if master == nil {
		return fmt.Errorf("%w: both master nodes are corrupt", ErrInvalidCaptureFile)
	}

	cf.master = master
	cf.staging.reset(master.block)
	cf.count = master.path.recordCount(cf.cfg.fanOut)
	cf.metadata = nil
	cf.metadataLoaded = false

	cf.lo.Debug("refreshed capture file state", "serial", master.serial,
		"records", cf.count, "file_limit", master.fileLimit)
	return nil
}

func (cf *CaptureFile) readCurrentMaster() (*masterNode, error) {
	if cf.opts.osLocking {
		if err := lockMasterRegion(cf.file, cf.cfg, cf.writeMode); err != nil {
			return nil, err
		}
		defer unlockMasterRegion(cf.file, cf.cfg)
	}

	var nodes [2]*masterNode
	for i, pos := range cf.cfg.masterPos {
		slot, err := cf.file.ReadAt(pos, int(cf.cfg.masterSize))
		if err != nil {
			return nil, err
		}
		nodes[i] = decodeMaster(slot, cf.cfg)
	}
	return pickMaster(nodes[0], nodes[1]), nil
}

// recoverPartialPage rewrites the page containing file_limit from the
// master's copy. A commit that died mid-append can leave torn bytes in that
// page; the committed copy is authoritative.
func (cf *CaptureFile) recoverPartialPage() error {
	pageSize := int64(cf.cfg.pageSize)
	pageStart := cf.master.fileLimit / pageSize * pageSize
	if err := cf.file.Grow(pageStart + pageSize); err != nil {
		return err
	}
	if err := cf.file.WriteAt(pageStart, cf.master.lastPage); err != nil {
		return err
	}
	cf.lo.Debug("rewrote partial data page", "page_start", pageStart, "file_limit", cf.master.fileLimit)
	return nil
}

// AddRecord appends a record without committing it and returns the new
// record count. The record is not visible to any other handle until Commit.
func (cf *CaptureFile) AddRecord(record []byte) (uint64, error) {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return 0, ErrNotOpen
	}
	if !cf.writeMode {
		return 0, ErrNotOpenForWrite
	}
	if uint64(len(record)) > maxRecordSize {
		return 0, ErrRecordTooLarge
	}

	coords, err := cf.addDataBlock(record)
	if err != nil {
		return 0, err
	}
	if err := cf.addChildToRightmost(coords, 1); err != nil {
		return 0, err
	}

	cf.count++
	return cf.count, nil
}

// addDataBlock stages one length-prefixed payload and returns the
// coordinates of its first byte (the length prefix).
func (cf *CaptureFile) addDataBlock(payload []byte) (DataCoordinates, error) {
	coords := DataCoordinates{
		BlockPos: uint64(cf.master.fileLimit),
		Offset:   uint32(cf.staging.len()),
	}
	cf.staging.writeSized(payload)
	if err := cf.flushStagingIfFull(); err != nil {
		return DataCoordinates{}, err
	}
	return coords, nil
}

// addChildToRightmost appends a child to the rightmost node at the given
// height. A node that reaches fan_out children is emitted into the
// compression stream as an immutable full node and becomes a child of the
// level above, cascading up to a new root when needed.
func (cf *CaptureFile) addChildToRightmost(child DataCoordinates, height int) error {
	node := cf.master.path.node(height)
	node.addChild(child)
	if node.count() < cf.cfg.fanOut {
		return nil
	}

	full := DataCoordinates{
		BlockPos: uint64(cf.master.fileLimit),
		Offset:   uint32(cf.staging.len()),
	}
	for _, c := range node.children {
		cf.staging.writeByte(byte(height - 1))
		cf.staging.writeCoordinates(c)
	}
	node.reset()

	if err := cf.flushStagingIfFull(); err != nil {
		return err
	}
	return cf.addChildToRightmost(full, height+1)
}

// flushStagingIfFull compresses the staging block and appends it to the
// data region once it holds at least a full block's worth of bytes. The
// compressed block lands at exactly the file position staged coordinates
// predicted for it.
func (cf *CaptureFile) flushStagingIfFull() error {
	if cf.staging.len() < cf.cfg.compressionBlockSize {
		return nil
	}

	compressed, err := compressBlock(cf.staging.bytes())
	if err != nil {
		return err
	}
	cf.staging.reset(nil)

	needed := cf.master.fileLimit + 4 + int64(len(compressed))
	if err := cf.growForAppend(needed); err != nil {
		return err
	}

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(compressed)))
	if err := cf.writeFullPages(size[:]); err != nil {
		return err
	}
	if err := cf.writeFullPages(compressed); err != nil {
		return err
	}

	cf.lo.Debug("flushed compression block", "compressed_size", len(compressed),
		"file_limit", cf.master.fileLimit)
	return nil
}

// growForAppend extends the file ahead of an append, min(5 MiB, file_limit)
// at a time rounded to whole pages, so the file is not grown one page per
// block.
func (cf *CaptureFile) growForAppend(needed int64) error {
	size := cf.file.Size()
	if needed <= size {
		return nil
	}
	pageSize := int64(cf.cfg.pageSize)
	growth := cf.master.fileLimit
	if growth > 5242880 {
		growth = 5242880
	}
	target := size + (growth+pageSize-1)/pageSize*pageSize
	if target < needed {
		target = (needed + pageSize - 1) / pageSize * pageSize
	}
	return cf.file.Grow(target)
}

// writeFullPages appends raw to the data region in whole-page units. The
// trailing partial page stays in the master's page copy until later bytes
// complete it; file_limit always advances by exactly len(raw).
func (cf *CaptureFile) writeFullPages(raw []byte) error {
	pageSize := int64(cf.cfg.pageSize)
	posInLast := cf.master.fileLimit % pageSize
	total := posInLast + int64(len(raw))
	fullPages := total / pageSize * pageSize

	if fullPages > 0 {
		pageStart := cf.master.fileLimit - posInLast
		fullRemainder := fullPages - posInLast

		out := make([]byte, 0, fullPages)
		out = append(out, cf.master.lastPage[:posInLast]...)
		out = append(out, raw[:fullRemainder]...)
		if err := cf.file.WriteAt(pageStart, out); err != nil {
			return err
		}

		tail := raw[fullRemainder:]
		copy(cf.master.lastPage, tail)
		for i := len(tail); i < len(cf.master.lastPage); i++ {
			cf.master.lastPage[i] = 0
		}
	} else {
		copy(cf.master.lastPage[posInLast:], raw)
	}

	cf.master.fileLimit += int64(len(raw))
	return nil
}

// Commit durably publishes all records added and metadata set since the
// last commit. Either everything in the commit becomes visible or, on
// failure, nothing does; a handle whose commit failed should be closed.
func (cf *CaptureFile) Commit() error {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return ErrNotOpen
	}
	if !cf.writeMode {
		return ErrNotOpenForWrite
	}
	return cf.commitLocked()
}

func (cf *CaptureFile) commitLocked() error {
	cf.master.serial++
	cf.master.block = append(cf.master.block[:0], cf.staging.bytes()...)

	slot, err := cf.master.encode(cf.cfg)
	if err != nil {
		return err
	}

	// Data pages must be durable before the master that points at them.
	if err := cf.file.Sync(); err != nil {
		return fmt.Errorf("error syncing data pages: %w", err)
	}

	if cf.opts.osLocking {
		if err := lockMasterRegion(cf.file, cf.cfg, true); err != nil {
			return err
		}
		defer unlockMasterRegion(cf.file, cf.cfg)
	}
	if err := cf.file.WriteAt(cf.master.slotPos(cf.cfg), slot); err != nil {
		return err
	}
	if err := cf.file.Sync(); err != nil {
		return fmt.Errorf("error syncing master node: %w", err)
	}

	cf.lo.Debug("committed", "serial", cf.master.serial, "records", cf.count,
		"file_limit", cf.master.fileLimit)
	return nil
}

// RecordCount returns the number of records visible to this handle. In
// write mode it includes records added but not yet committed; in read mode
// it reflects the state at open or last refresh.
func (cf *CaptureFile) RecordCount() uint64 {
	cf.Lock()
	defer cf.Unlock()

	return cf.count
}

// Stats describes the state visible to an open handle.
type Stats struct {
	Records              uint64
	Serial               uint32
	FileLimit            int64
	Version              uint32
	PageSize             int
	CompressionBlockSize int
	FanOut               int
	HasMetadata          bool
}

// Stats reports the handle's view of the file.
func (cf *CaptureFile) Stats() (Stats, error) {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return Stats{}, ErrNotOpen
	}
	return Stats{
		Records:              cf.count,
		Serial:               cf.master.serial,
		FileLimit:            cf.master.fileLimit,
		Version:              cf.cfg.version,
		PageSize:             cf.cfg.pageSize,
		CompressionBlockSize: cf.cfg.compressionBlockSize,
		FanOut:               cf.cfg.fanOut,
		HasMetadata:          !cf.master.metadata.IsNull(),
	}, nil
}

// RecordAt returns the record stored at the 1-based record number.
func (cf *CaptureFile) RecordAt(recordNumber uint64) ([]byte, error) {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return nil, ErrNotOpen
	}
	return cf.lookup(cf.master.path, cf.count, recordNumber)
}

// lookup resolves a record number against a rightmost path and record
// count, descending the right spine while the path follows it and full
// persisted nodes once it leaves the spine.
func (cf *CaptureFile) lookup(path *rightmostPath, count, recordNumber uint64) ([]byte, error) {
	if recordNumber < 1 || recordNumber > count {
		return nil, fmt.Errorf("%w: record %d of %d", ErrOutOfRange, recordNumber, count)
	}

	// The digits of the 0-based index in base fan_out select one child per
	// level, least-significant digit at the leaf.
	k := recordNumber - 1
	fanOut := uint64(cf.cfg.fanOut)
	digits := make([]int, path.levels())
	for i := range digits {
		digits[i] = int(k % fanOut)
		k /= fanOut
	}

	var (
		current DataCoordinates
		found   bool
		level   = len(digits) - 1
	)
	for level >= 0 {
		node := path.nodes[level]
		d := digits[level]
		level--
		if d < node.count() {
			current = node.children[d]
			found = true
			break
		}
		// The digit equals the occupancy, so the target lives under the
		// rightmost node one level down.
	}
	if !found {
		return nil, fmt.Errorf("%w: record %d", ErrOutOfRange, recordNumber)
	}

	for level >= 0 {
		blk, err := cf.blockAt(current.BlockPos)
		if err != nil {
			return nil, err
		}
		entry := int(current.Offset) + digits[level]*fullNodeEntrySize + 1
		if entry+coordinateSize > len(blk) {
			return nil, fmt.Errorf("%w: index node outside its block", ErrInvalidCaptureFile)
		}
		current = decodeCoordinates(blk[entry:])
		level--
	}

	return cf.sizedData(current)
}

// GetMetadata returns the file's metadata blob, or nil when none is set.
func (cf *CaptureFile) GetMetadata() ([]byte, error) {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return nil, ErrNotOpen
	}
	if cf.master.metadata.IsNull() {
		return nil, nil
	}
	if !cf.metadataLoaded {
		data, err := cf.sizedData(cf.master.metadata)
		if err != nil {
			return nil, err
		}
		cf.metadata = data
		cf.metadataLoaded = true
	}
	return cf.metadata, nil
}

// SetMetadata replaces the file's metadata blob. Passing nil clears it.
// Metadata is not a record: it has no record number and commits
// transactionally with any records added alongside it.
func (cf *CaptureFile) SetMetadata(metadata []byte) error {
	cf.Lock()
	defer cf.Unlock()

	if cf.file == nil {
		return ErrNotOpen
	}
	if !cf.writeMode {
		return ErrNotOpenForWrite
	}
	return cf.setMetadataLocked(metadata)
}

func (cf *CaptureFile) setMetadataLocked(metadata []byte) error {
	cf.metadata = metadata
	cf.metadataLoaded = true
	if metadata == nil {
		cf.master.metadata = DataCoordinates{}
		return nil
	}

	coords, err := cf.addDataBlock(metadata)
	if err != nil {
		return err
	}
	cf.master.metadata = coords
	return nil
}

// fetchData reads size bytes at pos. Bytes past the last fully written
// page are served from the master's partial-page copy, which mirrors the
// tail of the data region up to file_limit.
func (cf *CaptureFile) fetchData(pos int64, size int) ([]byte, error) {
	pageSize := int64(cf.cfg.pageSize)
	writtenLimit := cf.master.fileLimit / pageSize * pageSize
	end := pos + int64(size)

	switch {
	case end <= writtenLimit:
		return cf.file.ReadAt(pos, size)
	case pos < writtenLimit:
		if end-writtenLimit > pageSize {
			return nil, fmt.Errorf("%w: data pointer beyond file limit", ErrInvalidCaptureFile)
		}
		head, err := cf.file.ReadAt(pos, int(writtenLimit-pos))
		if err != nil {
			return nil, err
		}
		return append(head, cf.master.lastPage[:end-writtenLimit]...), nil
	default:
		off := pos - writtenLimit
		if off+int64(size) > pageSize {
			return nil, fmt.Errorf("%w: data pointer beyond file limit", ErrInvalidCaptureFile)
		}
		return append([]byte(nil), cf.master.lastPage[off:off+int64(size)]...), nil
	}
}

// fetchSized reads a u32 length prefix at pos and then that many bytes.
func (cf *CaptureFile) fetchSized(pos int64) ([]byte, error) {
	sizeBuf, err := cf.fetchData(pos, 4)
	if err != nil {
		return nil, err
	}
	return cf.fetchData(pos+4, int(binary.LittleEndian.Uint32(sizeBuf)))
}

// blockAt returns the uncompressed bytes of the block at the given file
// position. The staging block is served directly; persisted blocks come
// from the cache or are fetched and decompressed.
func (cf *CaptureFile) blockAt(pos uint64) ([]byte, error) {
	if int64(pos) == cf.master.fileLimit {
		return cf.staging.bytes(), nil
	}
	if blk, ok := cf.blocks.Get(pos); ok {
		return blk, nil
	}

	compressed, err := cf.fetchSized(int64(pos))
	if err != nil {
		return nil, err
	}
	raw, err := decompressBlock(compressed)
	if err != nil {
		return nil, err
	}
	cf.blocks.Set(pos, raw, int64(len(raw)))
	return raw, nil
}

// sizedData returns a copy of the length-prefixed payload at the given
// coordinates.
func (cf *CaptureFile) sizedData(c DataCoordinates) ([]byte, error) {
	blk, err := cf.blockAt(c.BlockPos)
	if err != nil {
		return nil, err
	}

	off := int(c.Offset)
	if off+4 > len(blk) {
		return nil, fmt.Errorf("%w: data pointer outside its block", ErrInvalidCaptureFile)
	}
	n := int(binary.LittleEndian.Uint32(blk[off:]))
	if off+4+n > len(blk) {
		return nil, fmt.Errorf("%w: sized data outside its block", ErrInvalidCaptureFile)
	}

	out := make([]byte, n)
	copy(out, blk[off+4:])
	return out, nil
}
