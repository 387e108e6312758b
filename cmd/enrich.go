package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/osm-geocoder/internal/batch"
	"github.com/sells-group/osm-geocoder/internal/monitoring"
	"github.com/sells-group/osm-geocoder/pkg/geocode"
)

var (
	enrichIn  string
	enrichOut string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Geocode a JSON-lines file of address records",
	Long:  "Reads one address record per line, geocodes them concurrently and writes the enriched records in the same order. Records skipped because the provider kept throttling are written unchanged.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in, closeIn, err := openInput(enrichIn)
		if err != nil {
			return err
		}
		defer closeIn() //nolint:errcheck

		recs, err := readRecords(in)
		if err != nil {
			return err
		}

		env, err := initGeocoder(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runner := batch.NewRunner(env.Enricher,
			batch.WithConcurrency(cfg.Batch.Concurrency),
			batch.WithBreaker(env.Guard.Breaker()),
		)
		sum := runner.Run(ctx, recs)

		out, closeOut, err := openOutput(enrichOut)
		if err != nil {
			return err
		}
		if err := writeRecords(out, recs); err != nil {
			closeOut() //nolint:errcheck
			return err
		}
		if err := closeOut(); err != nil {
			return eris.Wrap(err, "close output")
		}

		zap.L().Info("enrich complete",
			zap.String("run_id", sum.RunID),
			zap.Int("total", sum.Total),
			zap.Int("geocoded", sum.Geocoded),
			zap.Int("failed", sum.Failed),
			zap.Int("errors", sum.Errors),
			zap.Int("skipped", sum.Skipped),
		)

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		if alerts := alerter.Evaluate(sum); len(alerts) > 0 {
			for _, a := range alerts {
				zap.L().Warn("enrich: run alert", zap.String("type", string(a.Type)), zap.String("message", a.Message))
			}
			// The run context may already be cancelled; deliver alerts anyway.
			alerter.SendAlerts(context.WithoutCancel(ctx), alerts)
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichIn, "in", "-", "input JSON-lines file (- for stdin)")
	enrichCmd.Flags().StringVar(&enrichOut, "out", "-", "output JSON-lines file (- for stdout)")
	rootCmd.AddCommand(enrichCmd)
}

func openInput(path string) (io.Reader, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "open input %s", path)
	}
	return f, f.Close, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create output %s", path)
	}
	return f, f.Close, nil
}

// readRecords parses JSON lines. Blank lines are ignored.
func readRecords(r io.Reader) ([]*geocode.Record, error) {
	var recs []*geocode.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var rec geocode.Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, eris.Wrapf(err, "parse record on line %d", line)
		}
		recs = append(recs, &rec)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read input")
	}
	return recs, nil
}

func writeRecords(w io.Writer, recs []*geocode.Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return eris.Wrap(err, "write record")
		}
	}
	return eris.Wrap(bw.Flush(), "flush output")
}
