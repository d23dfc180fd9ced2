package pager

import (
	"fmt"
	"os"
)

// File wraps the backing capture file with positioned reads and writes.
// It tracks the file size so alignment and growth decisions never need a
// round trip to stat.
type File struct {
	f    *os.File
	size int64
}

// Open opens the file at path for positioned access. When write is false the
// descriptor is read-only and every mutating method fails.
func Open(path string, write bool) (*File, error) {
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening capture file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error fetching file stats: %w", err)
	}

	return &File{f: f, size: stat.Size()}, nil
}

// Size returns the current size of the file in bytes.
func (p *File) Size() int64 {
	return p.size
}

// Fd returns the underlying descriptor for advisory locking.
func (p *File) Fd() uintptr {
	return p.f.Fd()
}

// ReadAt reads exactly n bytes starting at off.
func (p *File) ReadAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := p.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("error reading %d bytes at offset %d: %w", n, off, err)
	}
	return buf, nil
}

// WriteAt writes b starting at off.
func (p *File) WriteAt(off int64, b []byte) error {
	if _, err := p.f.WriteAt(b, off); err != nil {
		return fmt.Errorf("error writing %d bytes at offset %d: %w", len(b), off, err)
	}
	if end := off + int64(len(b)); end > p.size {
		p.size = end
	}
	return nil
}

// Grow extends the file to newSize bytes. Shrinking is never performed.
func (p *File) Grow(newSize int64) error {
	if newSize <= p.size {
		return nil
	}
	if err := p.f.Truncate(newSize); err != nil {
		return fmt.Errorf("error growing file to %d bytes: %w", newSize, err)
	}
	p.size = newSize
	return nil
}

// Sync flushes the filesystem's in-memory buffers to disk.
func (p *File) Sync() error {
	return p.f.Sync()
}

// Close closes the underlying descriptor. Advisory locks held on the
// descriptor are released by the OS.
func (p *File) Close() error {
	return p.f.Close()
}
