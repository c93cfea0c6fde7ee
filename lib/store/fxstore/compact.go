package fxstore

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/ost"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/VictoriaMetrics/metrics"
)

var compactionsTotal = metrics.GetOrCreateCounter(`fxstore_compactions_total`)

// CompactTo writes the live data of the store into a fresh store file at
// path. Collection ids, names, codec refs and the next collection id are
// preserved; the new file gets a new store id. The target must not exist.
// Pending BATCH changes make it fail with RetCIllegalState.
func (s *Store) CompactTo(path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.pending {
		return store.NewError(store.RetCIllegalState, "cannot compact with uncommitted changes")
	}
	if _, err := os.Stat(path); err == nil {
		return store.Errorf(store.RetCAlreadyExists, "compaction target %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return store.Wrap(store.RetCIO, err, "stat compaction target")
	}

	start := time.Now()
	log.Infof("compacting %s into %s", s.describe(), path)

	opts := s.opts
	opts.PageSize = store.PageSize(s.sb.PageSize)
	opts.CommitMode = store.CommitBatch
	opts.OnClosePolicy = store.OnCloseRollback
	opts.AllowCodecUpgrade = false
	opts.CodecUpgradeHook = nil

	dst, err := Open(path, opts)
	if err != nil {
		return err
	}
	if err := s.copyInto(dst); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		log.Errorf("compaction into %s failed: %v", path, err)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}

	compactionsTotal.Inc()
	log.Infof("compacted %s into %s in %s (%d -> %d bytes)", s.describe(), path, time.Since(start), s.storage.Size(), dst.storage.Size())
	return nil
}

// copyInto rebuilds every collection of the committed snapshot in dst and
// commits the result. The caller holds s.writeMu.
func (s *Store) copyInto(dst *Store) error {
	src := s.committed
	states := src.States()
	copied := make([]catalog.CollectionState, 0, len(states))

	for _, st := range states {
		next := st
		var err error
		if st.Kind.Ordered() {
			next.RootPageID, err = s.copyOrdered(dst, st)
		} else {
			next.RootPageID, err = s.copySequence(dst, st)
		}
		if err != nil {
			return err
		}
		copied = append(copied, next)
	}

	dst.writeMu.Lock()
	defer dst.writeMu.Unlock()
	snap := catalog.NewSnapshot(dst.header.SeqNo, dst.pages.Tail(), src.NextCollectionID(), src.Entries(), copied)
	dst.current.Store(snap)
	dst.pending = true
	return dst.commitLocked(snap)
}

func (s *Store) copyOrdered(dst *Store, st catalog.CollectionState) (uint64, error) {
	cmp := s.keyOrder(st)
	out := btree.Open(dst.pages, cmp, 0)
	var werr error
	err := btree.Open(s.pages, cmp, st.RootPageID).Ascend(btree.All, func(k, v []byte) bool {
		_, _, werr = out.Put(k, v)
		return werr == nil
	})
	if err == nil {
		err = werr
	}
	return out.Root(), err
}

func (s *Store) copySequence(dst *Store, st catalog.CollectionState) (uint64, error) {
	out := ost.Open(dst.pages, 0)
	var werr error
	err := ost.Open(s.pages, st.RootPageID).Ascend(0, func(i uint64, v []byte) bool {
		werr = out.Insert(i, v)
		return werr == nil
	})
	if err == nil {
		err = werr
	}
	return out.Root(), err
}
