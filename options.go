package coredb

// Durability selects how aggressively a commit fsyncs before returning,
// trading latency for the crash-consistency guarantee described in the
// commit sequence (see internal/txn).
type Durability int

const (
	// NoSync issues no fsync calls; the OS may reorder writes.
	NoSync Durability = iota
	// AsyncFlush fsyncs data pages without blocking the committing caller.
	AsyncFlush
	// SyncData fsyncs data pages before writing the meta page, but does
	// not fsync the meta page itself.
	SyncData
	// FullSync fsyncs data pages, writes the meta page, then fsyncs the
	// meta page. After a crash the store reflects either txn N or N+1,
	// never a mixture.
	FullSync
)

// ChecksumMode selects how much of a page is covered by its integrity
// field on read and write. The page layer always seals and verifies the
// full CRC32 of header-plus-content (internal/page.ComputeChecksum); this
// field is accepted for forward compatibility with a future partial or
// disabled mode but every value currently behaves as ChecksumFull.
type ChecksumMode int

const (
	ChecksumNone ChecksumMode = iota
	ChecksumFast
	ChecksumFull
)

// Options configures an Environment at Open. Every field has a documented
// zero-value-safe default filled in by DefaultOptions; a caller may start
// from DefaultOptions() and override only what it needs.
type Options struct {
	// MapSize is the number of bytes pre-allocated for the memory-mapped
	// file. The file never grows automatically; exceeding it surfaces
	// MapFullError.
	MapSize int64

	// MaxReaders bounds the reader table. Exceeding it at BeginRead
	// surfaces ReadersFullError.
	MaxReaders int

	// MaxDBs bounds the number of named databases the catalog can hold.
	MaxDBs int

	// MaxTxnPages caps the dirty-page set of a single write transaction.
	// Exceeding it surfaces TxnFullError.
	MaxTxnPages int

	// PageSize is the fixed page size, used both for a newly created file
	// and when opening an existing one: the page size recorded in an
	// existing file's meta page is neither read back nor checked against
	// this value.
	PageSize int

	// Durability selects the fsync discipline used by Commit.
	Durability Durability

	// ChecksumMode selects the on-page integrity check strength.
	ChecksumMode ChecksumMode

	// FileMode is the permission bits applied when the backing file is
	// created.
	FileMode uint32

	// Lock requests an OS advisory file lock (flock) on Open, guarding
	// against a second process opening the same file read-write. It
	// defaults to on for SyncData/FullSync and off for NoSync/AsyncFlush
	// so that bulk-load workloads using NoSync are not slowed by an extra
	// syscall that durability level doesn't otherwise care about.
	Lock *bool
}

const (
	DefaultPageSize    = 4096
	DefaultMapSize     = 1 << 26 // 64 MiB
	DefaultMaxReaders  = 126
	DefaultMaxDBs      = 128
	DefaultMaxTxnPages = 1 << 16
	DefaultFileMode    = 0o600
)

// DefaultOptions returns the option set used when a caller passes nil to
// Open, documented field by field the way bbolt documents DefaultOptions.
func DefaultOptions() *Options {
	return &Options{
		MapSize:      DefaultMapSize,
		MaxReaders:   DefaultMaxReaders,
		MaxDBs:       DefaultMaxDBs,
		MaxTxnPages:  DefaultMaxTxnPages,
		PageSize:     DefaultPageSize,
		Durability:   FullSync,
		ChecksumMode: ChecksumFull,
		FileMode:     DefaultFileMode,
	}
}

func (o *Options) lockRequested() bool {
	if o.Lock != nil {
		return *o.Lock
	}
	return o.Durability == SyncData || o.Durability == FullSync
}

func normalizeOptions(o *Options) *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	if out.MapSize <= 0 {
		out.MapSize = DefaultMapSize
	}
	if out.MaxReaders <= 0 {
		out.MaxReaders = DefaultMaxReaders
	}
	if out.MaxDBs <= 0 {
		out.MaxDBs = DefaultMaxDBs
	}
	if out.MaxTxnPages <= 0 {
		out.MaxTxnPages = DefaultMaxTxnPages
	}
	if out.PageSize <= 0 {
		out.PageSize = DefaultPageSize
	}
	if out.FileMode == 0 {
		out.FileMode = DefaultFileMode
	}
	return &out
}
