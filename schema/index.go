// Package schema renders DDL for models, including the GIN indexes that make
// array containment and overlap lookups cheap, and reads table definitions
// back from information_schema.
package schema

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spandigital/pgext/config"
	"github.com/spandigital/pgext/expr"
	"github.com/spandigital/pgext/model"
)

// maxNameLength is PostgreSQL's identifier limit (NAMEDATALEN - 1).
const maxNameLength = 63

const (
	createIndex      = "CREATE INDEX %s ON %s (%s)%s"
	createArrayIndex = "CREATE INDEX %s ON %s USING GIN (%s)%s"
	createLikeIndex  = "CREATE INDEX %s ON %s (%s %s)%s"
)

// Editor renders DDL statements.
type Editor struct {
	// GIN adds a GIN index for every indexed or unique array column.
	GIN bool
	// Tablespace is appended to every index when set.
	Tablespace string
}

// NewEditor builds an editor from the extension settings.
func NewEditor(cfg config.ExtensionsConfig) *Editor {
	return &Editor{GIN: cfg.AutoGINIndex}
}

var defaultEditor = &Editor{GIN: true}

// Default returns the editor used by the package level functions.
func Default() *Editor { return defaultEditor }

// IndexStatements renders the index DDL of m with GIN indexes enabled.
func IndexStatements(m *model.Model) []string {
	return defaultEditor.IndexStatements(m)
}

// IndexStatements lists the CREATE INDEX statements for m's local fields:
// a btree index for indexed non-unique columns, a pattern_ops index for
// indexed text columns and a GIN index for array columns.
func (e *Editor) IndexStatements(m *model.Model) []string {
	var out []string
	for _, f := range m.LocalFields() {
		if f.Column() == "" || f.PrimaryKey() {
			continue
		}
		dbType := f.DBType()
		if f.Indexed() && !f.Unique() {
			out = append(out, e.createIndex(m, f, "", createIndex, expr.QuoteName(f.Column())))
		}
		if (f.Indexed() || f.Unique()) && !isArrayType(dbType) {
			if ops := patternOps(dbType); ops != "" {
				out = append(out, e.createIndex(m, f, "_like", createLikeIndex, expr.QuoteName(f.Column()), ops))
			}
		}
		if e.GIN {
			if stmt, ok := e.ArrayIndex(m, f); ok {
				out = append(out, stmt)
			}
		}
	}
	return out
}

// ArrayIndex renders the GIN index of an indexed or unique array column.
func (e *Editor) ArrayIndex(m *model.Model, f model.Field) (string, bool) {
	if !isArrayType(f.DBType()) || !(f.Indexed() || f.Unique()) {
		return "", false
	}
	return e.createIndex(m, f, "_gin", createArrayIndex, expr.QuoteName(f.Column())), true
}

func (e *Editor) createIndex(m *model.Model, f model.Field, suffix, layout string, parts ...string) string {
	name := expr.QuoteName(IndexName(m.Table, []string{f.Column()}, suffix))
	args := []any{name, expr.QuoteName(m.Table)}
	if len(parts) == 2 {
		args = append(args, parts[0], parts[1])
	} else {
		args = append(args, parts[0])
	}
	return fmt.Sprintf(layout, append(args, e.extra())...)
}

func (e *Editor) extra() string {
	if e.Tablespace == "" {
		return ""
	}
	return " TABLESPACE " + expr.QuoteName(e.Tablespace)
}

// isArrayType matches "integer[]" and "varchar(20)[]" but not "varchar(20)".
func isArrayType(dbType string) bool {
	return strings.Contains(dbType, "[") && strings.HasSuffix(dbType, "]")
}

func patternOps(dbType string) string {
	switch {
	case strings.HasPrefix(dbType, "varchar"):
		return "varchar_pattern_ops"
	case strings.HasPrefix(dbType, "text"):
		return "text_pattern_ops"
	}
	return ""
}

// IndexName builds "<table>_<columns>_<digest><suffix>", shortening the table
// and column parts to fit the identifier limit.
func IndexName(table string, columns []string, suffix string) string {
	hashSuffix := digest(append([]string{table}, columns...)...) + suffix
	cols := strings.Join(columns, "_")
	name := fmt.Sprintf("%s_%s_%s", table, cols, hashSuffix)
	if len(name) <= maxNameLength {
		return name
	}
	if len(hashSuffix) > maxNameLength/3 {
		hashSuffix = hashSuffix[:maxNameLength/3]
	}
	other := (maxNameLength-len(hashSuffix))/2 - 1
	name = fmt.Sprintf("%s_%s_%s", truncate(table, other), truncate(cols, other), hashSuffix)
	if name[0] == '_' || (name[0] >= '0' && name[0] <= '9') {
		name = "D" + name[:len(name)-1]
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func digest(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}
