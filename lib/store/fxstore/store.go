package fxstore

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/fxstore/lib/btree"
	"github.com/ValentinKolb/fxstore/lib/catalog"
	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/storage"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/meta"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("fxstore")

var headerFallbacks = metrics.GetOrCreateCounter(`fxstore_header_fallbacks_total`)

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store is an open fxstore file or in-memory store.
//
// Thread-safety: all methods are safe for concurrent use. Writers (collection
// lifecycle, mutations, Commit, Rollback) are serialized by a single lock.
// Readers load the published snapshot once and never take the lock.
type Store struct {
	opts    store.Options
	path    string // empty for memory stores
	storage storage.Storage
	pages   *storage.PageStore
	sb      meta.Superblock
	codecs  *codec.Registry

	// writer state, guarded by writeMu
	writeMu     sync.Mutex
	committed   *catalog.Snapshot
	header      meta.CommitHeader
	catalogRoot uint64
	stateRoot   uint64
	pending     bool

	current atomic.Pointer[catalog.Snapshot]
	closed  atomic.Bool

	handles     *xsync.MapOf[handleKey, any]
	comparators *xsync.MapOf[string, btree.Compare]

	registry    gometrics.Registry
	commitTimer gometrics.Timer
	pageFill    gometrics.Histogram
}

// check interface compliance
var _ store.IStore = (*Store)(nil)

// Open opens the store file at path, creating it if it does not exist or is
// empty. The page size of an existing file wins over opts.PageSize.
func Open(path string, opts store.Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	fs, err := storage.OpenFile(path, opts.FileLock == store.FileLockProcess)
	if err != nil {
		return nil, err
	}
	s, err := open(fs, path, opts)
	if err != nil {
		_ = fs.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory creates an ephemeral store backed by a byte buffer capped at
// opts.MemoryLimitBytes (0 = unlimited).
func OpenMemory(opts store.Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return open(storage.NewMemoryStorage(opts.MemoryLimitBytes), "", opts)
}

func open(st storage.Storage, path string, opts store.Options) (*Store, error) {
	s := &Store{
		opts:        opts,
		path:        path,
		storage:     st,
		codecs:      codec.NewRegistry(),
		handles:     xsync.NewMapOf[handleKey, any](),
		comparators: xsync.NewMapOf[string, btree.Compare](),
		registry:    gometrics.NewRegistry(),
	}
	s.commitTimer = gometrics.GetOrRegisterTimer("commit", s.registry)
	s.pageFill = gometrics.GetOrRegisterHistogram("stats.page_fill", s.registry, gometrics.NewUniformSample(4096))

	var err error
	if st.Size() == 0 {
		err = s.initialize()
	} else {
		err = s.load()
	}
	if err != nil {
		return nil, err
	}

	_ = s.registry.Register("cache.hit_ratio", gometrics.NewFunctionalGaugeFloat64(s.pages.Cache().HitRatio))
	_ = s.registry.Register("cache.lookups", gometrics.NewFunctionalGauge(func() int64 { return int64(s.pages.Cache().Lookups()) }))
	_ = s.registry.Register("alloc.tail", gometrics.NewFunctionalGauge(func() int64 { return int64(s.pages.Tail()) }))
	return s, nil
}

// initialize writes the superblock and an empty commit into slot A and
// reserves the header area up to the first data page.
func (s *Store) initialize() error {
	s.sb = meta.NewSuperblock(s.opts.PageSize)
	if err := s.storage.WriteAt(s.sb.Encode(), meta.SuperblockOffset); err != nil {
		return err
	}
	s.header = meta.CommitHeader{
		AllocTail:        meta.DataOffset,
		NextCollectionID: 1,
		CommitEpochMs:    s.sb.CreatedAtMs,
	}
	if err := s.storage.WriteAt(s.header.Encode(), meta.SlotA.Offset()); err != nil {
		return err
	}
	// slot B stays blank until the first commit
	if err := s.storage.Extend(meta.DataOffset); err != nil {
		return err
	}
	if err := s.storage.Force(); err != nil {
		return err
	}

	s.pages = storage.NewPageStore(s.storage, int(s.sb.PageSize), s.opts.CacheBytes, meta.DataOffset)
	s.committed = catalog.Empty(meta.DataOffset)
	s.current.Store(s.committed)
	log.Infof("created store %s (id %s, page size %d)", s.describe(), s.sb.StoreID, s.sb.PageSize)
	return nil
}

// load validates superblock and header slots and rebuilds the snapshot from
// the persisted catalog and state trees.
func (s *Store) load() error {
	if size := s.storage.Size(); size < meta.DataOffset {
		return store.Errorf(store.RetCCorruption, "file too small for a store: %d bytes", size)
	}

	block := make([]byte, meta.BlockSize)
	if err := s.storage.ReadAt(block, meta.SuperblockOffset); err != nil {
		return err
	}
	sb, err := meta.DecodeSuperblock(block)
	if err != nil {
		return err
	}
	s.sb = sb
	if s.opts.PageSize != store.PageSize(sb.PageSize) {
		log.Debugf("using stored page size %d instead of %d", sb.PageSize, s.opts.PageSize)
	}

	slotA := make([]byte, meta.BlockSize)
	slotB := make([]byte, meta.BlockSize)
	if err := s.storage.ReadAt(slotA, meta.SlotA.Offset()); err != nil {
		return err
	}
	if err := s.storage.ReadAt(slotB, meta.SlotB.Offset()); err != nil {
		return err
	}
	sel, err := meta.SelectHeader(slotA, slotB)
	if err != nil {
		return err
	}
	if sel.Fallback {
		headerFallbacks.Inc()
		log.Warningf("store %s: falling back to header slot %s (seq %d), other slot rejected: %v",
			s.describe(), sel.Slot, sel.Header.SeqNo, sel.OtherErr)
	}
	h := sel.Header
	if h.AllocTail < meta.DataOffset {
		return store.Errorf(store.RetCCorruption, "allocation tail %d below data offset", h.AllocTail)
	}

	s.header = h
	s.catalogRoot = h.CatalogRootPageID
	s.stateRoot = h.StateRootPageID
	s.pages = storage.NewPageStore(s.storage, int(sb.PageSize), s.opts.CacheBytes, h.AllocTail)

	entries, states, err := s.readCatalog(s.catalogRoot, s.stateRoot)
	if err != nil {
		return err
	}
	s.committed = catalog.NewSnapshot(h.SeqNo, h.AllocTail, h.NextCollectionID, entries, states)
	s.current.Store(s.committed)
	log.Infof("opened store %s (id %s, seq %d, %d collections)", s.describe(), sb.StoreID, h.SeqNo, len(entries))
	return nil
}

// readCatalog decodes the persisted catalog and state trees.
func (s *Store) readCatalog(catalogRoot, stateRoot uint64) ([]catalog.CatalogEntry, []catalog.CollectionState, error) {
	var (
		entries []catalog.CatalogEntry
		states  []catalog.CollectionState
		derr    error
	)
	err := btree.Open(s.pages, bytes.Compare, catalogRoot).Ascend(btree.All, func(k, v []byte) bool {
		e, err := catalog.DecodeEntry(string(k), v)
		if err != nil {
			derr = err
			return false
		}
		entries = append(entries, e)
		return true
	})
	if err == nil {
		err = derr
	}
	if err != nil {
		return nil, nil, err
	}

	err = btree.Open(s.pages, bytes.Compare, stateRoot).Ascend(btree.All, func(_, v []byte) bool {
		st, err := catalog.DecodeState(v)
		if err != nil {
			derr = err
			return false
		}
		states = append(states, st)
		return true
	})
	if err == nil {
		err = derr
	}
	if err != nil {
		return nil, nil, err
	}
	return entries, states, nil
}

func (s *Store) describe() string {
	if s.path == "" {
		return "<memory>"
	}
	return s.path
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Path returns the file path, or "" for a memory store.
func (s *Store) Path() string {
	return s.path
}

// Options returns the options the store was opened with. PageSize reflects
// the stored page size.
func (s *Store) Options() store.Options {
	o := s.opts
	o.PageSize = store.PageSize(s.sb.PageSize)
	return o
}

// Superblock returns the decoded superblock.
func (s *Store) Superblock() meta.Superblock {
	return s.sb
}

// Codecs returns the codec registry of this store.
func (s *Store) Codecs() *codec.Registry {
	return s.codecs
}

// Metrics returns the per-store metrics registry.
func (s *Store) Metrics() gometrics.Registry {
	return s.registry
}

// SeqNo returns the sequence number of the published snapshot.
func (s *Store) SeqNo() uint64 {
	return s.current.Load().SeqNo()
}

// HasPending reports whether BATCH changes await Commit.
func (s *Store) HasPending() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.pending
}

// RegisterCodec binds T to c in the store's registry.
func RegisterCodec[T any](s *Store, c codec.Codec[T]) error {
	return codec.Register(s.codecs, c)
}

// --------------------------------------------------------------------------
// Snapshot access and the single writer path
// --------------------------------------------------------------------------

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return store.NewError(store.RetCClosed, "store is closed")
	}
	return nil
}

// snapshot returns the published snapshot. It never blocks.
func (s *Store) snapshot() (*catalog.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.current.Load(), nil
}

// update runs fn against the published snapshot under the writer lock. If fn
// derives a new snapshot it is committed (AUTO) or published as pending
// (BATCH). Returning the argument unchanged leaves the store untouched.
func (s *Store) update(fn func(snap *catalog.Snapshot) (*catalog.Snapshot, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	snap := s.current.Load()
	next, err := fn(snap)
	if err != nil {
		return err
	}
	if next == nil || next == snap {
		return nil
	}
	next = next.WithAllocTail(s.pages.Tail())

	if s.opts.CommitMode == store.CommitAuto {
		return s.commitLocked(next)
	}
	s.current.Store(next)
	s.pending = true
	return nil
}

// mutateState applies fn to the state of collection id. fn reports whether
// it changed anything.
func (s *Store) mutateState(id uint64, fn func(st *catalog.CollectionState) (bool, error)) error {
	return s.update(func(snap *catalog.Snapshot) (*catalog.Snapshot, error) {
		st, ok := snap.State(id)
		if !ok {
			return nil, droppedError(id)
		}
		changed, err := fn(&st)
		if err != nil || !changed {
			return snap, err
		}
		return snap.WithState(st), nil
	})
}

func droppedError(id uint64) error {
	return store.Errorf(store.RetCNotFound, "collection %d no longer exists", id)
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// Close closes the store. Pending BATCH changes are handled according to the
// OnClosePolicy; under OnCloseError the store stays open and Close fails with
// RetCIllegalState. Closing a closed store is a no-op.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return nil
	}

	if s.pending {
		switch s.opts.OnClosePolicy {
		case store.OnCloseCommit:
			log.Infof("store %s: committing pending changes on close", s.describe())
			if err := s.commitLocked(s.current.Load()); err != nil {
				return err
			}
		case store.OnCloseRollback:
			log.Warningf("store %s: discarding pending changes on close", s.describe())
			s.rollbackLocked()
		default:
			log.Warningf("store %s: close refused, uncommitted changes pending", s.describe())
			return store.NewError(store.RetCIllegalState, "store has uncommitted changes, commit or roll back before closing")
		}
	}

	s.closed.Store(true)
	s.handles.Clear()
	if err := s.storage.Close(); err != nil {
		return err
	}
	log.Infof("closed store %s", s.describe())
	return nil
}
