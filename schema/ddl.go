package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
)

// CreateTable renders the CREATE TABLE statement of m.
func CreateTable(m *model.Model) string {
	return defaultEditor.CreateTable(m)
}

// CreateTable renders the CREATE TABLE statement of m. A child model's key
// references the parent table.
func (e *Editor) CreateTable(m *model.Model) string {
	fields := m.ConcreteFields()
	defs := make([]string, 0, len(fields))
	for _, f := range fields {
		defs = append(defs, columnDefinition(m, f))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", expr.QuoteName(m.Table), strings.Join(defs, ", "))
}

func columnDefinition(m *model.Model, f model.Field) string {
	var b strings.Builder
	b.WriteString(expr.QuoteName(f.Column()))
	b.WriteString(" ")
	b.WriteString(f.DBType())
	if f.Null() && !f.PrimaryKey() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	switch {
	case f.PrimaryKey():
		b.WriteString(" PRIMARY KEY")
		if m.Parent != nil && m.Parent.PK() != nil {
			fmt.Fprintf(&b, " REFERENCES %s (%s) DEFERRABLE INITIALLY DEFERRED",
				expr.QuoteName(m.Parent.Table), expr.QuoteName(m.Parent.PK().Column()))
		}
	case f.Unique():
		b.WriteString(" UNIQUE")
	}
	if _, ok := f.(*model.ArrayManyToManyField); ok {
		b.WriteString(" DEFAULT '{}'")
	}
	return b.String()
}

// Statements lists CREATE TABLE followed by the index statements of m.
func (e *Editor) Statements(m *model.Model) []string {
	return append([]string{e.CreateTable(m)}, e.IndexStatements(m)...)
}

// CreateModel executes the table and index DDL of m in one transaction.
func (e *Editor) CreateModel(ctx context.Context, conn db.DBTX, m *model.Model) error {
	log := logger.FromContext(ctx).With("model", m.Name)
	return db.Atomic(ctx, conn, func(ctx context.Context) error {
		for _, stmt := range e.Statements(m) {
			log.Debug("Executing DDL", "sql", stmt)
			if _, err := db.Conn(ctx, conn).Exec(ctx, stmt); err != nil {
				return fmt.Errorf("creating %s: %w", m.Table, err)
			}
		}
		return nil
	})
}
