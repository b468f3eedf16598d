package relation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/spandigital/pgext/model"
)

// Action names a relation change phase.
type Action string

const (
	PreAdd     Action = "pre_add"
	PostAdd    Action = "post_add"
	PreRemove  Action = "pre_remove"
	PostRemove Action = "post_remove"
	PreClear   Action = "pre_clear"
	PostClear  Action = "post_clear"
)

// Change describes one add, remove or clear on an array relation.
type Change struct {
	Action Action
	// Rel is the relation being changed.
	Rel *model.Rel
	// Instance owns the manager that made the change.
	Instance *model.Instance
	// Reverse is set when Instance is on the target side.
	Reverse bool
	// Model is the model of the keys in Keys.
	Model *model.Model
	// Keys are the affected keys; nil for clears.
	Keys []any
}

// Receiver handles a Change. An error from a pre_* receiver vetoes the
// change.
type Receiver func(ctx context.Context, c Change) error

type receiver struct {
	name string
	fn   Receiver
}

// Signals dispatches relation changes to named receivers in connection
// order.
type Signals struct {
	mu        sync.RWMutex
	receivers []receiver
}

// M2MChanged carries every change made by the managers.
var M2MChanged = &Signals{}

// Connect registers fn under name, reporting false when the name is taken.
func (s *Signals) Connect(name string, fn Receiver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.receivers, func(r receiver) bool { return r.name == name }) {
		return false
	}
	s.receivers = append(s.receivers, receiver{name: name, fn: fn})
	return true
}

func (s *Signals) Disconnect(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers = slices.DeleteFunc(s.receivers, func(r receiver) bool { return r.name == name })
}

// Send calls every receiver and stops at the first error.
func (s *Signals) Send(ctx context.Context, c Change) error {
	s.mu.RLock()
	receivers := slices.Clone(s.receivers)
	s.mu.RUnlock()
	for _, r := range receivers {
		if err := r.fn(ctx, c); err != nil {
			return fmt.Errorf("%s receiver %s: %w", c.Action, r.name, err)
		}
	}
	return nil
}
