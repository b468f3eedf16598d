// Package pgext extends PostgreSQL models with array-backed many-to-many
// relations, composite (array, hstore and json) updates and lookups, GIN
// index DDL and nested form fields.
//
// Models are declared with package model, queried and updated with package
// query, and related through the managers of package relation. Install wires
// the process-wide pieces together once at startup:
//
//	cfg, err := config.Load("pgext.yaml")
//	if err != nil {
//		return err
//	}
//	pgext.Install(cfg.Extensions)
package pgext

import (
	"sync/atomic"

	"github.com/spandigital/pgext/config"
	"github.com/spandigital/pgext/query"
	"github.com/spandigital/pgext/relation"
)

// DeleteHookName is the pre-delete hook that clears reverse array relations.
const DeleteHookName = "delete_reverse_related"

var installed atomic.Bool

// Install turns on the array relation support described by cfg: joins
// through array columns, PrefetchRelated for array relations and clearing of
// reverse arrays when a row is deleted. Only the first call has an effect;
// it reports whether this call installed anything.
func Install(cfg config.ExtensionsConfig) bool {
	if !installed.CompareAndSwap(false, true) {
		return false
	}
	query.SetArrayM2M(cfg.EnableArrayM2M)
	if !cfg.EnableArrayM2M {
		return true
	}
	query.SetPrefetcher(relation.Prefetch)
	query.OnPreDelete(DeleteHookName, relation.DeleteReverseRelated)
	return true
}

// Installed reports whether Install has run.
func Installed() bool { return installed.Load() }
