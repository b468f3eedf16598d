package query

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/model"
)

var arrayM2M atomic.Bool

// SetArrayM2M switches joins through array relations between the array
// predicates (key = ANY(array)) and plain column equality.
func SetArrayM2M(on bool) { arrayM2M.Store(on) }

// ArrayM2MEnabled reports the state of the array join switch.
func ArrayM2MEnabled() bool { return arrayM2M.Load() }

// PreDeleteHook runs for every instance a QuerySet deletes, inside the
// delete transaction and before any row is removed.
type PreDeleteHook func(ctx context.Context, conn db.DBTX, inst *model.Instance) error

type namedHook struct {
	name string
	fn   PreDeleteHook
}

var (
	hooksMu sync.RWMutex
	hooks   []namedHook
)

// OnPreDelete registers fn under name. It reports false when a hook with that
// name already exists.
func OnPreDelete(name string, fn PreDeleteHook) bool {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if slices.ContainsFunc(hooks, func(h namedHook) bool { return h.name == name }) {
		return false
	}
	hooks = append(hooks, namedHook{name: name, fn: fn})
	return true
}

// RemovePreDeleteHook unregisters the hook called name.
func RemovePreDeleteHook(name string) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = slices.DeleteFunc(hooks, func(h namedHook) bool { return h.name == name })
}

func preDeleteHooks() []PreDeleteHook {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	out := make([]PreDeleteHook, len(hooks))
	for i, h := range hooks {
		out[i] = h.fn
	}
	return out
}

// Prefetcher loads a relation for many owners at once and stores the result
// on each owner's prefetch cache.
type Prefetcher func(ctx context.Context, conn db.DBTX, owners []*model.Instance, name string) error

var prefetcher atomic.Pointer[Prefetcher]

// SetPrefetcher installs the loader used by PrefetchRelated. nil removes it.
func SetPrefetcher(p Prefetcher) {
	if p == nil {
		prefetcher.Store(nil)
		return
	}
	prefetcher.Store(&p)
}

func currentPrefetcher() Prefetcher {
	if p := prefetcher.Load(); p != nil {
		return *p
	}
	return nil
}
