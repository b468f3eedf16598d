// Command pgext inspects PostgreSQL tables the way pgext models see them.
//
// Commands:
//   - indexes: print the index DDL of a table, including GIN indexes for arrays
//   - ddl: print CREATE TABLE and index DDL of a table
//   - restrict: compile a CEL restriction against a table's columns
//
// Every command reads the table definition from the database named by
// --db, the database.dsn setting or PGEXT_DATABASE_DSN.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
