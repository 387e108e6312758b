package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create directory and cache tables",
	Long:  "Creates the countries, state_provinces, counties and geocode_cache tables in the directory database, and in the cache database when it is separate.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		dir, err := initDirectory(ctx)
		if err != nil {
			return err
		}
		defer dir.Close() //nolint:errcheck

		if err := dir.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate directory")
		}

		if cfg.Cache.Driver == "sqlite" || cfg.Cache.Driver == "postgres" {
			rs, own, err := cacheStore(ctx, dir)
			if err != nil {
				return err
			}
			if own {
				defer rs.Close() //nolint:errcheck
				if err := rs.Migrate(ctx); err != nil {
					return eris.Wrap(err, "migrate cache")
				}
			}
		}

		zap.L().Info("migrations applied",
			zap.String("directory", cfg.Directory.Driver),
			zap.String("cache", cfg.Cache.Driver),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
