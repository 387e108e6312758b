package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/osm-geocoder/pkg/geocode"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <address>",
	Short: "Geocode a free-form address",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initGeocoder(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Client.Coordinates(ctx, strings.Join(args, " "))
		out := geocode.NewReport(res, err)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil {
			return eris.Wrap(encErr, "write result")
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
