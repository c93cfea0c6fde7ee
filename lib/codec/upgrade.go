package codec

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/fxstore/lib/store"
)

// --------------------------------------------------------------------------
// Upgrade Context
// --------------------------------------------------------------------------

// UpgradeContext describes the migration of one collection's stored bytes
// from the on-disk codec version to the installed one.
type UpgradeContext struct {
	codec   Descriptor // nil if only the id is known
	codecID string
	from    int
	to      int
	hook    store.UpgradeHook
}

// NewUpgradeContext creates a context for a resolved codec. The target
// version is the codec's version.
func NewUpgradeContext(c Descriptor, from int, hook store.UpgradeHook) *UpgradeContext {
	return &UpgradeContext{codec: c, codecID: c.ID(), from: from, to: c.Version(), hook: hook}
}

// NewUpgradeContextForID creates a context for a codec known only by id.
func NewUpgradeContextForID(codecID string, from, to int, hook store.UpgradeHook) *UpgradeContext {
	return &UpgradeContext{codecID: codecID, from: from, to: to, hook: hook}
}

func (u *UpgradeContext) Codec() Descriptor { return u.codec }
func (u *UpgradeContext) CodecID() string { return u.codecID }
func (u *UpgradeContext) FromVersion() int { return u.from }
func (u *UpgradeContext) ToVersion() int { return u.to }
func (u *UpgradeContext) Hook() store.UpgradeHook { return u.hook }

// UpgradeNeeded reports whether the stored and installed versions differ.
func (u *UpgradeContext) UpgradeNeeded() bool {
	return u.from != u.to
}

// UpgradeIfNeeded returns old unchanged when no upgrade is needed or no hook
// is set, otherwise the hook's result for the full from->to span.
func (u *UpgradeContext) UpgradeIfNeeded(old []byte) ([]byte, error) {
	if !u.UpgradeNeeded() || u.hook == nil {
		return old, nil
	}
	out, err := u.hook(u.codecID, u.from, u.to, old)
	if err != nil {
		return nil, &store.Error{
			Code: store.RetCUpgradeFailed,
			Msg:  fmt.Sprintf("upgrade of %s from v%d to v%d failed", u.codecID, u.from, u.to),
			Err:  err,
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Chained Upgrade Hook
// --------------------------------------------------------------------------

// ChainedUpgradeHook combines hooks registered for exact (id, from, to)
// spans with a list of general hooks. For every call the exact hook runs
// first (if any), then each general hook in order, each receiving the
// output of the previous one.
//
// Thread-safety: safe for concurrent use.
type ChainedUpgradeHook struct {
	mu         sync.RWMutex
	registered map[string]store.UpgradeHook
	hooks      []store.UpgradeHook
}

// NewChainedUpgradeHook creates a chained hook from general hooks.
func NewChainedUpgradeHook(hooks ...store.UpgradeHook) *ChainedUpgradeHook {
	return &ChainedUpgradeHook{
		registered: make(map[string]store.UpgradeHook),
		hooks:      append([]store.UpgradeHook(nil), hooks...),
	}
}

func spanKey(codecID string, from, to int) string {
	return fmt.Sprintf("%s:%d:%d", codecID, from, to)
}

// Register installs hook for exactly the given span.
func (c *ChainedUpgradeHook) Register(codecID string, from, to int, hook store.UpgradeHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[spanKey(codecID, from, to)] = hook
}

// Add appends a general hook.
func (c *ChainedUpgradeHook) Add(hook store.UpgradeHook) *ChainedUpgradeHook {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
	return c
}

// Upgrade implements store.UpgradeHook.
func (c *ChainedUpgradeHook) Upgrade(codecID string, from, to int, old []byte) ([]byte, error) {
	c.mu.RLock()
	exact := c.registered[spanKey(codecID, from, to)]
	hooks := c.hooks
	c.mu.RUnlock()

	current := old
	var err error
	if exact != nil {
		if current, err = exact(codecID, from, to, current); err != nil {
			return nil, err
		}
	}
	for _, h := range hooks {
		if current, err = h(codecID, from, to, current); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// Hook returns c as a store.UpgradeHook.
func (c *ChainedUpgradeHook) Hook() store.UpgradeHook {
	return c.Upgrade
}
