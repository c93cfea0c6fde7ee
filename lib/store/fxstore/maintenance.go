package fxstore

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/ost"
	"github.com/ValentinKolb/fxstore/lib/storage"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/meta"
	"github.com/ValentinKolb/fxstore/lib/util"
)

// fastEntryEstimate is the per-element footprint FAST stats assume.
const fastEntryEstimate = 48

// --------------------------------------------------------------------------
// Tree walking
// --------------------------------------------------------------------------

// visitor receives everything a walk over the reachable trees finds.
type visitor struct {
	page   func(id uint64, used int)
	record func(ref uint64, size int)
	issue  func(kind store.VerifyErrorKind, offset int64, object uint64, msg string)
}

func (s *Store) pageOffset(id uint64) int64 {
	return int64(id) * int64(s.sb.PageSize)
}

func (s *Store) btreeWalker(vis visitor, shapeKind store.VerifyErrorKind) btree.Walker {
	return btree.Walker{
		Page:   func(p btree.PageInfo) { vis.page(p.ID, p.Used) },
		Record: vis.record,
		Issue: func(is btree.Issue) {
			switch is.Kind {
			case btree.IssuePage:
				vis.issue(store.VerifyPage, s.pageOffset(is.PageID), is.PageID, is.Msg)
			case btree.IssueRecord:
				vis.issue(store.VerifyRecord, int64(is.Ref), is.PageID, is.Msg)
			default:
				vis.issue(shapeKind, s.pageOffset(is.PageID), is.PageID, is.Msg)
			}
		},
	}
}

func (s *Store) ostWalker(vis visitor) ost.Walker {
	return ost.Walker{
		Page:   func(p ost.PageInfo) { vis.page(p.ID, p.Used) },
		Record: vis.record,
		Issue: func(is ost.Issue) {
			switch is.Kind {
			case ost.IssuePage:
				vis.issue(store.VerifyPage, s.pageOffset(is.PageID), is.PageID, is.Msg)
			case ost.IssueRecord:
				vis.issue(store.VerifyRecord, int64(is.Ref), is.PageID, is.Msg)
			default:
				vis.issue(store.VerifyOST, s.pageOffset(is.PageID), is.PageID, is.Msg)
			}
		},
	}
}

// walk visits the committed catalog and state trees and the tree of every
// collection in snap. The caller holds writeMu.
func (s *Store) walk(snap *catalog.Snapshot, vis visitor) {
	btree.Open(s.pages, bytes.Compare, s.catalogRoot).Check(s.btreeWalker(vis, store.VerifyCatalog))
	btree.Open(s.pages, bytes.Compare, s.stateRoot).Check(s.btreeWalker(vis, store.VerifyCatalog))

	for _, st := range snap.States() {
		switch {
		case st.Kind.Ordered():
			n := btree.Open(s.pages, s.keyOrder(st), st.RootPageID).Check(s.btreeWalker(vis, store.VerifyBTree))
			if n != st.Count {
				vis.issue(store.VerifyBTree, s.pageOffset(st.RootPageID), st.CollectionID,
					fmt.Sprintf("collection %d: state count %d, tree holds %d entries", st.CollectionID, st.Count, n))
			}
		case st.Kind.Valid():
			n := ost.Open(s.pages, st.RootPageID).Check(s.ostWalker(vis))
			if n != st.Count {
				vis.issue(store.VerifyOST, s.pageOffset(st.RootPageID), st.CollectionID,
					fmt.Sprintf("collection %d: state count %d, tree holds %d elements", st.CollectionID, st.Count, n))
			}
		default:
			vis.issue(store.VerifyCatalog, -1, st.CollectionID, fmt.Sprintf("collection %d has invalid kind %d", st.CollectionID, st.Kind))
		}
	}
}

// --------------------------------------------------------------------------
// Verify
// --------------------------------------------------------------------------

// Verify checks the structural integrity of the store: superblock, both
// header slots, the allocation tail, catalog consistency and every
// reachable page and record. Findings are reported in the result; only a
// closed store yields an error.
func (s *Store) Verify() (store.VerifyResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return store.VerifyResult{}, err
	}

	var res store.VerifyResult
	report := func(kind store.VerifyErrorKind, offset int64, object uint64, msg string) {
		res.Errors = append(res.Errors, store.VerifyError{Kind: kind, FileOffset: offset, ObjectID: object, Message: msg})
	}

	// every page is read back from storage, not from the cache
	s.pages.Cache().Clear()

	size := s.storage.Size()
	block := make([]byte, meta.BlockSize)
	if err := s.storage.ReadAt(block, meta.SuperblockOffset); err != nil {
		report(store.VerifySuperblock, meta.SuperblockOffset, 0, err.Error())
	} else if sb, err := meta.DecodeSuperblock(block); err != nil {
		report(store.VerifySuperblock, meta.SuperblockOffset, 0, err.Error())
	} else if sb != s.sb {
		report(store.VerifySuperblock, meta.SuperblockOffset, 0, "superblock changed since the store was opened")
	}

	for _, slot := range []meta.Slot{meta.SlotA, meta.SlotB} {
		if err := s.storage.ReadAt(block, slot.Offset()); err != nil {
			report(store.VerifyHeader, slot.Offset(), 0, err.Error())
			continue
		}
		if meta.IsBlank(block) {
			continue
		}
		h, err := meta.DecodeHeader(block)
		if err != nil {
			report(store.VerifyHeader, slot.Offset(), 0, fmt.Sprintf("slot %s: %v", slot, err))
			continue
		}
		if h.AllocTail < meta.DataOffset || int64(h.AllocTail) > size {
			report(store.VerifyHeader, slot.Offset(), h.SeqNo, fmt.Sprintf("slot %s: allocation tail %d outside [%d, %d]", slot, h.AllocTail, meta.DataOffset, size))
		}
	}

	tail := s.pages.Tail()
	if tail < meta.DataOffset || tail%storage.RecordAlign != 0 || int64(tail) > size {
		report(store.VerifyHeader, int64(tail), 0, fmt.Sprintf("allocation tail %d is misaligned or outside [%d, %d]", tail, meta.DataOffset, size))
	}

	snap := s.current.Load()
	s.verifyCatalog(snap, report)

	pageSize := uint64(s.sb.PageSize)
	s.walk(snap, visitor{
		page: func(id uint64, _ int) {
			if (id+1)*pageSize > tail {
				report(store.VerifyPage, s.pageOffset(id), id, fmt.Sprintf("page %d lies beyond the allocation tail %d", id, tail))
			}
		},
		record: func(uint64, int) {},
		issue:  report,
	})
	return res, nil
}

// verifyCatalog checks that the persisted catalog matches the committed
// snapshot and that names and states of snap agree.
func (s *Store) verifyCatalog(snap *catalog.Snapshot, report func(store.VerifyErrorKind, int64, uint64, string)) {
	entries, states, err := s.readCatalog(s.catalogRoot, s.stateRoot)
	if err != nil {
		report(store.VerifyCatalog, s.pageOffset(s.catalogRoot), 0, fmt.Sprintf("persisted catalog unreadable: %v", err))
	} else {
		persisted := catalog.NewSnapshot(0, 0, 0, entries, states)
		if !slices.Equal(persisted.Entries(), s.committed.Entries()) || !slices.Equal(persisted.States(), s.committed.States()) {
			report(store.VerifyCatalog, s.pageOffset(s.catalogRoot), 0, "persisted catalog differs from the committed snapshot")
		}
	}

	referenced := make(map[uint64]bool)
	for _, e := range snap.Entries() {
		if _, ok := snap.State(e.CollectionID); !ok {
			report(store.VerifyCatalog, -1, e.CollectionID, fmt.Sprintf("catalog entry %q points to missing collection %d", e.Name, e.CollectionID))
		}
		if e.CollectionID >= snap.NextCollectionID() {
			report(store.VerifyCatalog, -1, e.CollectionID, fmt.Sprintf("collection id %d not below next id %d", e.CollectionID, snap.NextCollectionID()))
		}
		referenced[e.CollectionID] = true
	}
	for _, st := range snap.States() {
		if !referenced[st.CollectionID] {
			report(store.VerifyCatalog, -1, st.CollectionID, fmt.Sprintf("collection %d has no catalog entry", st.CollectionID))
		}
	}
}

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

// Stats reports space usage. FAST derives estimates from the snapshot
// metadata only, DEEP walks every reachable page and record.
func (s *Store) Stats(mode store.StatsMode) (store.Stats, error) {
	if mode == store.StatsDeep {
		return s.deepStats()
	}
	snap, err := s.snapshot()
	if err != nil {
		return store.Stats{}, err
	}

	pageSize := int64(s.sb.PageSize)
	live := int64(meta.DataOffset) + 2*pageSize
	for _, st := range snap.States() {
		live += int64(st.Count)*fastEntryEstimate + pageSize
	}
	return finishStats(store.Stats{
		Mode:              store.StatsFast,
		FileBytes:         s.storage.Size(),
		LiveBytesEstimate: live,
		CollectionCount:   snap.CollectionCount(),
	}), nil
}

func (s *Store) deepStats() (store.Stats, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return store.Stats{}, err
	}

	snap := s.current.Load()
	pageSize := int64(s.sb.PageSize)
	records := util.NewSizeHistogram()
	s.pageFill.Clear()

	stats := store.Stats{
		Mode:            store.StatsDeep,
		FileBytes:       s.storage.Size(),
		CollectionCount: snap.CollectionCount(),
	}
	live := int64(meta.DataOffset)
	s.walk(snap, visitor{
		page: func(_ uint64, used int) {
			stats.PageCount++
			live += pageSize
			s.pageFill.Update(int64(used) * 100 / pageSize)
		},
		record: func(_ uint64, size int) {
			stats.RecordCount++
			live += int64(util.AlignUp(uint64(storage.RecordHeaderSize+size), storage.RecordAlign))
			records.AddSample(size)
		},
		issue: func(store.VerifyErrorKind, int64, uint64, string) {},
	})

	stats.LiveBytesEstimate = live
	stats.MedianRecordSize = records.MedianEstimate()
	stats.PageFillP50 = s.pageFill.Percentile(0.5)
	stats.PageFillP90 = s.pageFill.Percentile(0.9)
	return finishStats(stats), nil
}

func finishStats(st store.Stats) store.Stats {
	st.LiveBytesEstimate = min(st.LiveBytesEstimate, st.FileBytes)
	st.DeadBytesEstimate = st.FileBytes - st.LiveBytesEstimate
	if st.FileBytes > 0 {
		st.DeadRatio = float64(st.DeadBytesEstimate) / float64(st.FileBytes)
	}
	return st
}
