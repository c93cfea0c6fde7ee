package fxstore

import (
	"sync/atomic"

	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/store"
)

// ReadTx is a read transaction: a snapshot captured at BeginRead. Views
// bound to it with In(tx) observe neither later writes nor writes in
// progress. A ReadTx holds no lock; it only keeps the snapshot reachable.
type ReadTx struct {
	s      *Store
	snap   *catalog.Snapshot
	closed atomic.Bool
}

// BeginRead captures the published snapshot. It never blocks.
func (s *Store) BeginRead() (*ReadTx, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return &ReadTx{s: s, snap: snap}, nil
}

// readSnapshot returns the snapshot reads of a handle are served from: the
// transaction's if tx is set, otherwise the currently published one.
func (s *Store) readSnapshot(tx *ReadTx) (*catalog.Snapshot, error) {
	if tx == nil {
		return s.snapshot()
	}
	return tx.snapshot()
}

func (tx *ReadTx) snapshot() (*catalog.Snapshot, error) {
	if tx.closed.Load() {
		return nil, store.NewError(store.RetCIllegalState, "read transaction is closed")
	}
	if err := tx.s.checkOpen(); err != nil {
		return nil, err
	}
	return tx.snap, nil
}

// SeqNo returns the sequence number of the captured snapshot.
func (tx *ReadTx) SeqNo() uint64 {
	return tx.snap.SeqNo()
}

// Active reports whether the transaction has not been closed.
func (tx *ReadTx) Active() bool {
	return !tx.closed.Load()
}

// Exists reports whether name was live when the transaction began.
func (tx *ReadTx) Exists(name string) (bool, error) {
	snap, err := tx.snapshot()
	if err != nil {
		return false, err
	}
	_, ok := snap.Entry(name)
	return ok, nil
}

// List describes the collections of the captured snapshot.
func (tx *ReadTx) List() ([]store.CollectionInfo, error) {
	snap, err := tx.snapshot()
	if err != nil {
		return nil, err
	}
	return listSnapshot(snap), nil
}

// Close deactivates the transaction. It is idempotent.
func (tx *ReadTx) Close() error {
	tx.closed.Store(true)
	return nil
}
