package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/detector"
	"github.com/gzhole/accessguard/internal/export"
	"github.com/gzhole/accessguard/internal/logger"
	"github.com/gzhole/accessguard/internal/redact"
	"github.com/gzhole/accessguard/internal/ui"
)

var (
	scanCategories []string
	scanFormat     string
	scanLimit      int
	scanOffset     int
	scanTextfile   string
	scanRedact     bool
	scanExtensions bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <logfile>",
	Short: "Scan an access log for suspicious requests",
	Long: `Parse an access log and run threat detectors over it.

Without --category every built-in category runs. Use "-" to read stdin.

Examples:
  accessguard scan access.log                          # All built-in categories
  accessguard scan access.log -c sql-injection -c bots # Selected categories
  accessguard scan access.log --all                    # Include packs and custom detectors
  accessguard scan access.log --format csv > hits.csv  # Export
  accessguard scan access.log --metrics-textfile /var/lib/node_exporter/accessguard.prom`,
	Args: cobra.ExactArgs(1),
	RunE: scanCommand,
}

func init() {
	scanCmd.Flags().StringSliceVarP(&scanCategories, "category", "c", nil, "Category key to run (repeatable)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "Output format: table, json or csv")
	scanCmd.Flags().IntVar(&scanLimit, "limit", analysis.DefaultLimit, "Maximum results shown per category")
	scanCmd.Flags().IntVar(&scanOffset, "offset", 0, "Results to skip per category")
	scanCmd.Flags().StringVar(&scanTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the scan")
	scanCmd.Flags().BoolVar(&scanRedact, "redact", false, "Mask credentials in paths and referrers")
	scanCmd.Flags().BoolVar(&scanExtensions, "all", false, "Also run rule-pack and custom detectors")
	rootCmd.AddCommand(scanCmd)
}

type categoryResult struct {
	key    detector.Key
	name   string
	result analysis.Result
}

func scanCommand(cmd *cobra.Command, args []string) error {
	switch scanFormat {
	case "table", "json", "csv":
	default:
		return fmt.Errorf("unsupported format %q", scanFormat)
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loadFile(args[0]); err != nil {
		return err
	}

	keys := scanKeys(s)

	progress := ui.NewPrinter(os.Stderr)
	showProgress := scanFormat == "table" || ui.IsTerminal(os.Stderr)

	ctx := cmd.Context()
	var results []categoryResult
	var runErr error
	for _, key := range keys {
		start := time.Now()
		res, err := s.orch.RunCategory(ctx, key)
		ev := logger.AuditEvent{
			Action:     logger.ActionScan,
			Source:     args[0],
			Category:   string(key),
			Records:    s.orch.Len(),
			Flagged:    res.Count,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		s.log(ev)

		if showProgress {
			progress.Progress(key, res.Count, err)
		}
		if err != nil {
			runErr = err
			continue
		}
		if scanRedact {
			res = redactResult(res)
		}
		results = append(results, categoryResult{key: key, name: categoryLabel(s, key), result: res})
	}

	if scanTextfile != "" {
		if err := s.metrics.WriteTextfile(scanTextfile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if err := printScan(cmd, results); err != nil {
		return err
	}
	return runErr
}

func scanKeys(s *session) []detector.Key {
	if len(scanCategories) == 0 {
		keys := detector.NewRegistry().Keys()
		if scanExtensions {
			for _, ext := range s.orch.Extensions() {
				keys = append(keys, ext.Key())
			}
		}
		return keys
	}
	keys := make([]detector.Key, len(scanCategories))
	for i, c := range scanCategories {
		keys[i] = detector.Key(c)
	}
	return keys
}

func categoryLabel(s *session, key detector.Key) string {
	if c, ok := detector.Lookup(key); ok {
		return c.Name
	}
	for _, ext := range s.orch.Extensions() {
		if ext.Key() == key {
			return ext.Name()
		}
	}
	return string(key)
}

func redactResult(r analysis.Result) analysis.Result {
	out := make([]analysis.OutputRecord, len(r.Results))
	for i, rec := range r.Results {
		rec.Path = redact.Path(rec.Path)
		rec.Referrer = redact.Path(rec.Referrer)
		out[i] = rec
	}
	r.Results = out
	return r
}

func printScan(cmd *cobra.Command, results []categoryResult) error {
	out := cmd.OutOrStdout()
	switch scanFormat {
	case "json":
		m := make(map[detector.Key]analysis.Result, len(results))
		for _, r := range results {
			m[r.key] = analysis.Page(r.result, scanLimit, scanOffset)
		}
		return export.WriteJSON(out, m)
	case "csv":
		var all []analysis.OutputRecord
		for _, r := range results {
			all = append(all, r.result.Results...)
		}
		return export.WriteCSV(out, all)
	default:
		p := ui.NewPrinter(out)
		for i, r := range results {
			if i > 0 {
				fmt.Fprintln(out)
			}
			p.Results(r.name, analysis.Page(r.result, scanLimit, scanOffset))
		}
		return nil
	}
}
