/*
Package fxstore implements the fxstore engine: a single-file (or in-memory)
store of ordered maps, ordered sets, indexed lists and deques with
snapshot-isolated readers and a single writer.

# File layout

	[superblock 4K][header slot A 4K][header slot B 4K][pages and records ...]

Pages are never modified once written. Every mutation writes the changed
tree path to fresh pages at the allocation tail and derives a new
catalog.Snapshot. A commit persists the catalog and state trees and writes a
CommitHeader into the slot not used by the previous commit; on open the
valid slot with the higher sequence number wins.

# Concurrency

One mutex serializes all writers (collection lifecycle, mutations, commit,
rollback). The published snapshot is an atomic pointer: readers load it once
per call (or once per ReadTx) and never block. Because every mutation
happens inside one critical section, read-and-remove operations such as
PollFirstEntry are atomic and concurrent pollers never see the same entry.

# Usage

	s, err := fxstore.Open("data.fx", store.DefaultOptions())
	if err != nil {
	    return err
	}
	defer s.Close()

	users, err := fxstore.CreateOrOpenMap[string, int64](s, "users")
	if err != nil {
	    return err
	}
	_, _, err = users.Put("alice", 42)

	tx, _ := s.BeginRead()
	defer tx.Close()
	view, _ := users.In(tx)
	age, ok, err := view.Get("alice")

# Commit modes

In AUTO mode every mutation commits. In BATCH mode mutations are published to
the in-memory snapshot immediately and made durable by Commit; Rollback
restores the last committed snapshot. Pages written by rolled back changes
are dead space until CompactTo rewrites the live data into a new file.
*/
package fxstore
