// Package model declares models, their fields and the array-backed
// many-to-many relation, plus the instance type and error taxonomy shared
// by the query and relation packages.
package model

import (
	"fmt"
	"strings"
)

// Model is a table-backed record type.
type Model struct {
	Name  string
	Table string
	// Parent is set for multi-table inheritance. The child table shares the
	// parent's primary key column.
	Parent *Model

	fields   []Field
	byName   map[string]Field
	pk       Field
	reverse  []*Rel
	registry *Registry
}

// New declares a model. The table defaults to the lower-cased name.
func New(name string, fields ...Field) *Model {
	m := &Model{Name: name, Table: strings.ToLower(name), byName: map[string]Field{}}
	for _, f := range fields {
		m.add(f)
	}
	return m
}

// WithTable overrides the table name.
func (m *Model) WithTable(table string) *Model {
	m.Table = table
	return m
}

// Inherits makes m a child of parent. m gets parent's primary key unless it
// declares its own.
func (m *Model) Inherits(parent *Model) *Model {
	m.Parent = parent
	if m.pk == nil && parent.pk != nil {
		typ := typeBigInteger
		if s, ok := parent.pk.(*ScalarField); ok {
			typ = relType(s)
		}
		pk := newScalar(parent.pk.Column(), typ, []Option{PrimaryKey()})
		m.fields = append([]Field{pk}, m.fields...)
		m.byName[pk.Name()] = pk
		pk.attach(m)
		m.pk = pk
	}
	return m
}

func relType(s *ScalarField) scalarType {
	switch s.typ {
	case typeAuto:
		return typeInteger
	case typeBigAuto:
		return typeBigInteger
	}
	return s.typ
}

func (m *Model) add(f Field) {
	if _, dup := m.byName[f.Name()]; dup {
		panic(fmt.Sprintf("model %s: duplicate field %q", m.Name, f.Name()))
	}
	f.attach(m)
	m.fields = append(m.fields, f)
	m.byName[f.Name()] = f
	if f.PrimaryKey() && m.pk == nil {
		m.pk = f
	}
}

// PK is the primary key field, inherited from the parent if needed.
func (m *Model) PK() Field {
	if m.pk == nil && m.Parent != nil {
		return m.Parent.PK()
	}
	return m.pk
}

// Field finds a field by name or column, searching parents after m.
func (m *Model) Field(name string) (Field, bool) {
	if f, ok := m.byName[name]; ok {
		return f, true
	}
	for _, f := range m.fields {
		if f.Column() == name && f.Column() != "" {
			return f, true
		}
	}
	if m.Parent != nil {
		return m.Parent.Field(name)
	}
	return nil, false
}

// LocalFields are the fields stored in m's own table, in declaration order.
func (m *Model) LocalFields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// ConcreteFields are the local fields that have a column.
func (m *Model) ConcreteFields() []Field {
	out := make([]Field, 0, len(m.fields))
	for _, f := range m.fields {
		if f.Column() != "" {
			out = append(out, f)
		}
	}
	return out
}

// AllFields lists parent fields first, skipping the child's copy of the key.
func (m *Model) AllFields() []Field {
	if m.Parent == nil {
		return m.LocalFields()
	}
	out := m.Parent.AllFields()
	for _, f := range m.fields {
		if f.PrimaryKey() {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ArrayM2MFields lists the array-backed relations declared on m and its parents.
func (m *Model) ArrayM2MFields() []*ArrayManyToManyField {
	var out []*ArrayManyToManyField
	for _, f := range m.AllFields() {
		if a, ok := f.(*ArrayManyToManyField); ok {
			out = append(out, a)
		}
	}
	return out
}

// ReverseRelations are the resolved array relations pointing at m.
func (m *Model) ReverseRelations() []*Rel {
	out := make([]*Rel, len(m.reverse))
	copy(out, m.reverse)
	return out
}

// ReverseRelation finds a reverse relation by accessor or query name.
func (m *Model) ReverseRelation(name string) (*Rel, bool) {
	for _, r := range m.reverse {
		if r.Hidden() {
			continue
		}
		if r.AccessorName() == name || r.QueryName() == name {
			return r, true
		}
	}
	return nil, false
}

// Registry returns the registry m was registered with, or nil.
func (m *Model) Registry() *Registry { return m.registry }

// IsSubclassOf reports whether m is other or inherits from it.
func (m *Model) IsSubclassOf(other *Model) bool {
	for cur := m; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

func (m *Model) String() string { return m.Name }
