package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the provider response cache",
}

// expiringStore is implemented by the table-backed caches.
type expiringStore interface {
	DeleteExpiredResponses(ctx context.Context) (int, error)
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired rows from the cache table",
	Long:  "Only applies to the sqlite and postgres cache drivers. Memory and redis entries expire on their own.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		if cfg.Cache.Driver != "sqlite" && cfg.Cache.Driver != "postgres" {
			zap.L().Info("cache driver expires entries itself, nothing to prune", zap.String("driver", cfg.Cache.Driver))
			return nil
		}
		ctx := cmd.Context()

		dir, err := initDirectory(ctx)
		if err != nil {
			return err
		}
		defer dir.Close() //nolint:errcheck

		rs, own, err := cacheStore(ctx, dir)
		if err != nil {
			return err
		}
		if own {
			defer rs.Close() //nolint:errcheck
		}

		es, ok := rs.(expiringStore)
		if !ok {
			return eris.Errorf("cache store %T cannot prune", rs)
		}
		n, err := es.DeleteExpiredResponses(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("cache pruned", zap.Int("deleted", n))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
