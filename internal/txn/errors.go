package txn

import "fmt"

// These mirror the root package's error types (see errors.go); internal/txn
// cannot import the root package without a cycle, so the boundary code in
// txn.go and env.go translates these into their coredb equivalents.

type TxnFullError struct {
	Size, Limit int
}

func (e *TxnFullError) Error() string {
	return fmt.Sprintf("txn: %d dirty pages exceeds limit %d", e.Size, e.Limit)
}

type MapFullError struct {
	MapSize int64
}

func (e *MapFullError) Error() string {
	return fmt.Sprintf("txn: map full (map_size=%d)", e.MapSize)
}

type ReadersFullError struct {
	MaxReaders int
}

func (e *ReadersFullError) Error() string {
	return fmt.Sprintf("txn: reader table full (max_readers=%d)", e.MaxReaders)
}

type CorruptionError struct {
	Detail  string
	Pgno    uint64
	HasPgno bool
}

func (e *CorruptionError) Error() string {
	if e.HasPgno {
		return fmt.Sprintf("txn: corruption at page %d: %s", e.Pgno, e.Detail)
	}
	return fmt.Sprintf("txn: corruption: %s", e.Detail)
}
