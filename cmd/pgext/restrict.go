package main

import (
	"fmt"
	"io"

	"github.com/Masterminds/squirrel"
	"github.com/spf13/cobra"

	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/restrict"
)

var restrictAlias string

var restrictCmd = &cobra.Command{
	Use:     "restrict <table> <expression>",
	Short:   "Compile a CEL restriction into a SQL condition",
	Example: `  pgext restrict product 'name.startsWith("a") && size(tags) > 0'`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTable(cmd.Context(), args[0], nil, func(m *model.Model) error {
			return printRestriction(cmd.OutOrStdout(), m, args[1], restrictAlias)
		})
	},
}

func init() {
	restrictCmd.Flags().StringVar(&restrictAlias, "alias", "", "table alias qualifying columns")
}

func printRestriction(w io.Writer, m *model.Model, src, alias string) error {
	cond, err := restrict.Compile(m, src, alias)
	if err != nil {
		return err
	}
	sql, err := squirrel.Dollar.ReplacePlaceholders(cond.SQL)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, sql); err != nil {
		return err
	}
	for i, a := range cond.Args {
		if _, err := fmt.Fprintf(w, "-- $%d = %#v\n", i+1, a); err != nil {
			return err
		}
	}
	return nil
}
