package capture

import "fmt"

// Options represents configuration for opening a capture file.
type Options struct {
	write                bool   // Open for write. At most one writer per file, across processes.
	debug                bool   // Enable debug logging.
	forceNewEmptyFile    bool   // Replace any existing file with a fresh empty one.
	osLocking            bool   // Take advisory OS locks on the file itself.
	pageSize             int    // Per-file constant, fixed at creation.
	compressionBlockSize int    // Per-file constant, fixed at creation.
	fanOut               int    // Per-file constant, fixed at creation.
	initialMetadata      []byte // Metadata committed with the initial empty state of a new file.
}

// Config is a function on the Options for a capture file.
type Config func(*Options) error

func DefaultOptions() *Options {
	return &Options{
		pageSize:             defaultPageSize,
		compressionBlockSize: defaultCompressionBlockSize,
		fanOut:               defaultFanOut,
	}
}

func WithWrite() Config {
	return func(o *Options) error {
		o.write = true
		return nil
	}
}

func WithDebug() Config {
	return func(o *Options) error {
		o.debug = true
		return nil
	}
}

// WithForceNewEmptyFile replaces any existing file at the path with a new
// empty capture file. Implies write mode.
func WithForceNewEmptyFile() Config {
	return func(o *Options) error {
		o.forceNewEmptyFile = true
		o.write = true
		return nil
	}
}

// WithOSLocking enables advisory OS file locks: an exclusive writer lock
// for the lifetime of a write-mode open, and a master-region lock held
// while master nodes are read or written.
func WithOSLocking() Config {
	return func(o *Options) error {
		o.osLocking = true
		return nil
	}
}

// WithInitialMetadata sets the metadata committed with the initial state of
// a newly created file. Ignored when opening an existing file.
func WithInitialMetadata(b []byte) Config {
	return func(o *Options) error {
		o.initialMetadata = b
		return nil
	}
}

// WithCompressionBlockSize sets the staging block size for a newly created
// file. Existing files keep the size they were created with.
func WithCompressionBlockSize(size int) Config {
	return func(o *Options) error {
		if size < 1 {
			return fmt.Errorf("compression block size must be positive, got %d", size)
		}
		o.compressionBlockSize = size
		return nil
	}
}

// WithFanOut sets the index fan-out for a newly created file.
func WithFanOut(fanOut int) Config {
	return func(o *Options) error {
		if fanOut < 2 {
			return fmt.Errorf("fan out must be at least 2, got %d", fanOut)
		}
		o.fanOut = fanOut
		return nil
	}
}

// WithPageSize sets the page size for a newly created file.
func WithPageSize(size int) Config {
	return func(o *Options) error {
		if size < 512 {
			return fmt.Errorf("page size must be at least 512, got %d", size)
		}
		o.pageSize = size
		return nil
	}
}
