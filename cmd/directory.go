package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Manage the country, state and county directory",
}

var directorySeedFile string

var directorySeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load countries, states and counties from a JSON seed file or URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		path := directorySeedFile
		if path == "" {
			path = cfg.Directory.SeedFile
		}
		if path == "" {
			return eris.New("no seed file given (--file or directory.seed_file)")
		}

		ctx := cmd.Context()
		dir, err := initDirectory(ctx)
		if err != nil {
			return err
		}
		defer dir.Close() //nolint:errcheck

		res, err := seedFromFile(ctx, dir, path)
		if err != nil {
			return err
		}

		zap.L().Info("directory seeded",
			zap.Int64("countries", res.Countries),
			zap.Int64("state_provinces", res.StateProvinces),
			zap.Int64("counties", res.Counties),
		)
		return nil
	},
}

func init() {
	directorySeedCmd.Flags().StringVar(&directorySeedFile, "file", "", "seed file path or http(s) URL (default from directory.seed_file)")
	directoryCmd.AddCommand(directorySeedCmd)
	rootCmd.AddCommand(directoryCmd)
}
