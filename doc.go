// Package coredb is an embedded, single-process, ordered key-value store
// with ACID transactions over a single memory-mapped file.
//
// A writer never blocks a reader and a reader never blocks a writer: at
// most one write transaction runs at a time, while any number of read
// transactions see a stable, isolated snapshot of the store for as long
// as they stay open. Durability is configurable per Environment via
// Options.Durability, trading commit latency for how much of a crash's
// aftermath is guaranteed consistent.
//
// A typical program opens one Environment for the lifetime of the
// process:
//
//	env, err := coredb.Open("data.db", nil)
//	if err != nil { ... }
//	defer env.Close()
//
//	err = env.Update(func(tx *coredb.Txn) error {
//		return tx.Put([]byte("k"), []byte("v"))
//	})
package coredb
