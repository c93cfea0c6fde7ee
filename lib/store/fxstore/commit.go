package fxstore

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/meta"
	"github.com/VictoriaMetrics/metrics"
)

var (
	commitsTotal   = metrics.GetOrCreateCounter(`fxstore_commits_total`)
	rollbacksTotal = metrics.GetOrCreateCounter(`fxstore_rollbacks_total`)
)

// Commit durably publishes all pending changes. Without pending changes (and
// always in AUTO mode, where every operation commits itself) it is a no-op.
func (s *Store) Commit() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.pending {
		return nil
	}
	return s.commitLocked(s.current.Load())
}

// Rollback discards all pending changes and republishes the last committed
// snapshot. It is a no-op when nothing is pending. Pages written by the
// discarded changes stay allocated until compaction.
func (s *Store) Rollback() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.pending {
		s.rollbackLocked()
	}
	return nil
}

func (s *Store) rollbackLocked() {
	s.current.Store(s.committed)
	s.pending = false
	rollbacksTotal.Inc()
}

// commitLocked persists next and publishes it. The caller holds writeMu.
//
// Order: catalog and state trees, data fsync (SYNC), header into the
// inactive slot, read-back verification, header fsync (SYNC), publication.
// Until the header write completes the previous commit stays the recovery
// point; on failure nothing is published.
func (s *Store) commitLocked(next *catalog.Snapshot) error {
	start := time.Now()

	catalogRoot, stateRoot, err := s.persistCatalog(s.committed, next)
	if err != nil {
		log.Errorf("store %s: writing catalog failed: %v", s.describe(), err)
		return err
	}

	sync := s.opts.Durability == store.DurabilitySync
	if sync {
		if err := s.storage.Force(); err != nil {
			log.Errorf("store %s: syncing data pages failed: %v", s.describe(), err)
			return err
		}
	}

	h := meta.CommitHeader{
		SeqNo:             s.header.SeqNo + 1,
		AllocTail:         s.pages.Tail(),
		CatalogRootPageID: catalogRoot,
		StateRootPageID:   stateRoot,
		NextCollectionID:  next.NextCollectionID(),
		CommitEpochMs:     uint64(time.Now().UnixMilli()),
	}
	if sync {
		h.CommittedFlags |= meta.FlagSync
	}
	if err := s.writeHeader(h); err != nil {
		log.Errorf("store %s: writing commit header %d failed: %v", s.describe(), h.SeqNo, err)
		return err
	}
	if sync {
		if err := s.storage.Force(); err != nil {
			log.Errorf("store %s: syncing commit header failed: %v", s.describe(), err)
			return err
		}
	}

	if next.AllocTail() != h.AllocTail {
		next = next.WithAllocTail(h.AllocTail)
	}
	s.header = h
	s.catalogRoot = catalogRoot
	s.stateRoot = stateRoot
	s.committed = next
	s.pending = false
	s.current.Store(next)

	commitsTotal.Inc()
	s.commitTimer.UpdateSince(start)
	return nil
}

// writeHeader writes h into its slot and reads it back.
func (s *Store) writeHeader(h meta.CommitHeader) error {
	slot := meta.SlotFor(h.SeqNo)
	if err := s.storage.WriteAt(h.Encode(), slot.Offset()); err != nil {
		return err
	}
	check := make([]byte, meta.BlockSize)
	if err := s.storage.ReadAt(check, slot.Offset()); err != nil {
		return err
	}
	got, err := meta.DecodeHeader(check)
	if err != nil {
		return err
	}
	if got != h {
		return store.Errorf(store.RetCIO, "commit header in slot %s did not read back as written", slot)
	}
	return nil
}

// persistCatalog rewrites the catalog and state trees for the differences
// between the committed snapshot prev and next, copy-on-write on the
// committed trees. It returns the new roots.
func (s *Store) persistCatalog(prev, next *catalog.Snapshot) (uint64, uint64, error) {
	cat := btree.Open(s.pages, bytes.Compare, s.catalogRoot)
	for _, e := range prev.Entries() {
		if _, ok := next.Entry(e.Name); !ok {
			if _, _, err := cat.Delete([]byte(e.Name)); err != nil {
				return 0, 0, err
			}
		}
	}
	for _, e := range next.Entries() {
		if old, ok := prev.Entry(e.Name); ok && old == e {
			continue
		}
		if _, _, err := cat.Put([]byte(e.Name), catalog.EncodeEntry(e)); err != nil {
			return 0, 0, err
		}
	}

	states := btree.Open(s.pages, bytes.Compare, s.stateRoot)
	for _, st := range prev.States() {
		if _, ok := next.State(st.CollectionID); !ok {
			if _, _, err := states.Delete(catalog.CollectionKey(st.CollectionID)); err != nil {
				return 0, 0, err
			}
		}
	}
	for _, st := range next.States() {
		if old, ok := prev.State(st.CollectionID); ok && old == st {
			continue
		}
		if _, _, err := states.Put(catalog.CollectionKey(st.CollectionID), catalog.EncodeState(st)); err != nil {
			return 0, 0, err
		}
	}
	return cat.Root(), states.Root(), nil
}
