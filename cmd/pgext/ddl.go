package main

import (
	"github.com/spf13/cobra"

	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/schema"
)

var ddlIndexed []string

var ddlCmd = &cobra.Command{
	Use:   "ddl <table>",
	Short: "Print CREATE TABLE and index DDL for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTable(cmd.Context(), args[0], ddlIndexed, func(m *model.Model) error {
			return printStatements(cmd.OutOrStdout(), schema.NewEditor(cfg.Extensions).Statements(m))
		})
	},
}

func init() {
	ddlCmd.Flags().StringSliceVar(&ddlIndexed, "column", nil, "column to index (repeatable)")
}
