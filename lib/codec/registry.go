package codec

import (
	"reflect"
	"sort"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("codec")

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry maps Go types to codecs and codec ids to codecs.
//
// Thread-safety: all methods are safe for concurrent use. Lookups are
// lock-free reads of the underlying concurrent maps.
type Registry struct {
	byType *xsync.MapOf[reflect.Type, Descriptor]
	byID   *xsync.MapOf[string, Descriptor]
}

// NewRegistry creates a registry with all built-in codecs registered.
func NewRegistry() *Registry {
	r := &Registry{
		byType: xsync.NewMapOf[reflect.Type, Descriptor](),
		byID:   xsync.NewMapOf[string, Descriptor](),
	}
	mustRegister(r, Int64)
	mustRegister(r, Int32)
	mustRegister(r, Int16)
	mustRegister(r, Int8)
	mustRegister(r, Uint64)
	mustRegister(r, Float64)
	mustRegister(r, Float32)
	mustRegister(r, Bool)
	mustRegister(r, String)
	mustRegister(r, Bytes)
	return r
}

func mustRegister[T any](r *Registry, c Codec[T]) {
	if err := Register(r, c); err != nil {
		panic(err)
	}
}

// Register binds t to c.
//
// Registering a nil type or codec fails with RetCInvalidArgument. Re-binding a
// type to a codec with the same id replaces the previous binding (this is how
// a newer codec version is installed); binding it to a different id fails
// with RetCAlreadyExists.
func (r *Registry) Register(t reflect.Type, c Descriptor) error {
	if t == nil {
		return store.NewError(store.RetCInvalidArgument, "type must not be nil")
	}
	if c == nil || (reflect.ValueOf(c).Kind() == reflect.Ptr && reflect.ValueOf(c).IsNil()) {
		return store.NewError(store.RetCInvalidArgument, "codec must not be nil")
	}
	if c.ID() == "" {
		return store.NewError(store.RetCInvalidArgument, "codec id must not be empty")
	}

	var err error
	r.byType.Compute(t, func(old Descriptor, loaded bool) (Descriptor, bool) {
		if loaded && old.ID() != c.ID() {
			err = store.Errorf(store.RetCAlreadyExists, "type %s is already bound to codec %s", t, old.ID())
			return old, false
		}
		return c, false
	})
	if err != nil {
		return err
	}
	r.byID.Store(c.ID(), c)
	log.Debugf("registered codec %s v%d for %s", c.ID(), c.Version(), t)
	return nil
}

// Get returns the codec bound to t.
func (r *Registry) Get(t reflect.Type) (Descriptor, error) {
	if t == nil {
		return nil, store.NewError(store.RetCInvalidArgument, "type must not be nil")
	}
	c, ok := r.byType.Load(t)
	if !ok {
		return nil, store.Errorf(store.RetCCodecNotFound, "no codec registered for %s", t)
	}
	return c, nil
}

// ByID returns the codec registered under id.
func (r *Registry) ByID(id string) (Descriptor, bool) {
	return r.byID.Load(id)
}

// IDs returns the ids of all registered codecs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, r.byID.Size())
	r.byID.Range(func(id string, _ Descriptor) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// --------------------------------------------------------------------------
// Typed helpers
// --------------------------------------------------------------------------

// Register binds the type parameter T to c.
func Register[T any](r *Registry, c Codec[T]) error {
	if c == nil {
		return store.NewError(store.RetCInvalidArgument, "codec must not be nil")
	}
	return r.Register(reflect.TypeFor[T](), c)
}

// Lookup returns the codec bound to T.
func Lookup[T any](r *Registry) (Codec[T], error) {
	t := reflect.TypeFor[T]()
	d, err := r.Get(t)
	if err != nil {
		return nil, err
	}
	c, ok := d.(Codec[T])
	if !ok {
		return nil, store.Errorf(store.RetCTypeMismatch, "codec %s registered for %s does not encode %s", d.ID(), t, t)
	}
	return c, nil
}
