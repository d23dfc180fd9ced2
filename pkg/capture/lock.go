package capture

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mio-data/capturefile/internal/pager"
)

// The write-owner lock occupies a single byte near the top of the file's
// offset space, far beyond any data, so it never collides with the
// master-region lock taken during commits and refreshes.
const (
	lockOwnerStart int64 = 0x7FFFFFFFFFFFFFFE
	lockOwnerLen   int64 = 1
)

// The capture file itself is the only persisted artifact, so writer
// exclusion inside one process is a package-level registry of absolute
// paths rather than a lockfile.
var (
	writePathsMu sync.Mutex
	writePaths   = map[string]struct{}{}
)

func acquireWritePath(path string) error {
	writePathsMu.Lock()
	defer writePathsMu.Unlock()

	if _, ok := writePaths[path]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyOpen, path)
	}
	writePaths[path] = struct{}{}
	return nil
}

func releaseWritePath(path string) {
	writePathsMu.Lock()
	defer writePathsMu.Unlock()

	delete(writePaths, path)
}

// lockWriteOwner takes the exclusive cross-process writer lock without
// blocking. Contention fails fast.
func lockWriteOwner(f *pager.File) error {
	flk := unix.Flock_t{
		Type:  unix.F_WRLCK,
		Start: lockOwnerStart,
		Len:   lockOwnerLen,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flk); err != nil {
		return fmt.Errorf("%w: held by another process", ErrAlreadyOpen)
	}
	return nil
}

func unlockWriteOwner(f *pager.File) error {
	flk := unix.Flock_t{
		Type:  unix.F_UNLCK,
		Start: lockOwnerStart,
		Len:   lockOwnerLen,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flk)
}

// lockMasterRegion takes an advisory lock over both master-node slots:
// shared while reading them, exclusive while a commit rewrites one. This
// blocks until granted.
func lockMasterRegion(f *pager.File, cfg fileConfig, exclusive bool) error {
	typ := int16(unix.F_RDLCK)
	if exclusive {
		typ = unix.F_WRLCK
	}
	flk := unix.Flock_t{
		Type:  typ,
		Start: cfg.masterPos[0],
		Len:   2 * cfg.masterSize,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &flk); err != nil {
		return fmt.Errorf("error locking master region: %w", err)
	}
	return nil
}

func unlockMasterRegion(f *pager.File, cfg fileConfig) error {
	flk := unix.Flock_t{
		Type:  unix.F_UNLCK,
		Start: cfg.masterPos[0],
		Len:   2 * cfg.masterSize,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flk)
}
