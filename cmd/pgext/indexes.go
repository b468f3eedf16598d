package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/schema"
)

var indexColumns []string

var indexesCmd = &cobra.Command{
	Use:   "indexes <table>",
	Short: "Print the index DDL of a table",
	Example: `  # GIN index for an array column
  pgext indexes product --column tags`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTable(cmd.Context(), args[0], indexColumns, func(m *model.Model) error {
			return printIndexes(cmd.OutOrStdout(), schema.NewEditor(cfg.Extensions), m)
		})
	},
}

func init() {
	indexesCmd.Flags().StringSliceVar(&indexColumns, "column", nil, "column to index (repeatable)")
}

func printIndexes(w io.Writer, e *schema.Editor, m *model.Model) error {
	stmts := e.IndexStatements(m)
	if len(stmts) == 0 {
		_, err := fmt.Fprintf(w, "-- no indexes for %s\n", m.Table)
		return err
	}
	return printStatements(w, stmts)
}

func printStatements(w io.Writer, stmts []string) error {
	for _, s := range stmts {
		if _, err := fmt.Fprintf(w, "%s;\n", s); err != nil {
			return err
		}
	}
	return nil
}
