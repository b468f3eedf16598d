package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/spandigital/pgext"
	"github.com/spandigital/pgext/config"
	"github.com/spandigital/pgext/db"
	"github.com/spandigital/pgext/internal/logger"
	"github.com/spandigital/pgext/model"
	"github.com/spandigital/pgext/schema"
)

var (
	cfg *config.Config

	cfgFile  string
	dsnFlag  string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "pgext",
	Short: "PostgreSQL extensions for array relations, hstore and json",
	Long: `pgext - PostgreSQL extensions for array relations, hstore and json

pgext reads table definitions from PostgreSQL and prints the DDL and
SQL conditions its models generate for them.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-json") {
			cfg.Log.JSON = logJSON
		}
		if dsnFlag != "" {
			cfg.Database.DSN = dsnFlag
		}
		log := logger.Setup(cfg.Log.Level, cfg.Log.JSON)
		cmd.SetContext(logger.ContextWithLogger(cmd.Context(), log))
		pgext.Install(cfg.Extensions)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	f.StringVar(&dsnFlag, "db", "", "database URL (overrides database.dsn)")
	f.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error or disabled")
	f.BoolVar(&logJSON, "log-json", false, "log in JSON")

	rootCmd.AddCommand(indexesCmd, ddlCmd, restrictCmd)
}

var errNoDSN = errors.New("a database URL is required: use --db, database.dsn or PGEXT_DATABASE_DSN")

// withTable connects, loads table as a model and hands it to fn.
func withTable(ctx context.Context, table string, indexed []string, fn func(m *model.Model) error) error {
	if cfg.Database.DSN == "" {
		return errNoDSN
	}
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	m, err := loadModel(ctx, pool, table, indexed)
	if err != nil {
		return err
	}
	return fn(m)
}

func loadModel(ctx context.Context, conn db.DBTX, table string, indexed []string) (*model.Model, error) {
	t, err := schema.LoadTable(ctx, conn, table)
	if err != nil {
		return nil, err
	}
	return t.Model(indexed...)
}
