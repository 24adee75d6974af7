package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/export"
	"github.com/gzhole/accessguard/internal/logger"
	"github.com/gzhole/accessguard/internal/summary"
	"github.com/gzhole/accessguard/internal/ui"
)

var summaryFormat string

var summaryCmd = &cobra.Command{
	Use:   "summary <logfile>",
	Short: "Summarise threats across every category",
	Long: `Run every built-in, rule-pack and custom detector and print aggregate
statistics: counts per category, top attackers, status codes, a daily
timeline and critical findings.

  accessguard summary access.log
  accessguard summary access.log --format json`,
	Args: cobra.ExactArgs(1),
	RunE: summaryCommand,
}

func init() {
	summaryCmd.Flags().StringVar(&summaryFormat, "format", "table", "Output format: table or json")
	rootCmd.AddCommand(summaryCmd)
}

func summaryCommand(cmd *cobra.Command, args []string) error {
	if summaryFormat != "table" && summaryFormat != "json" {
		return fmt.Errorf("unsupported format %q", summaryFormat)
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.loadFile(args[0]); err != nil {
		return err
	}

	start := time.Now()
	results, err := s.orch.RunEverything(cmd.Context(), nil)
	ev := logger.AuditEvent{
		Action:     logger.ActionScanAll,
		Source:     args[0],
		Records:    s.orch.Len(),
		Flagged:    len(results),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
		s.log(ev)
		return err
	}
	s.log(ev)

	sum := summary.Build(results)
	findings := summary.CriticalFindings(results, sum)

	if summaryFormat == "json" {
		if findings == nil {
			findings = []summary.Finding{}
		}
		return export.WriteJSON(cmd.OutOrStdout(), struct {
			Summary  summary.Summary   `json:"summary"`
			Findings []summary.Finding `json:"critical_findings"`
		}{sum, findings})
	}
	ui.NewPrinter(cmd.OutOrStdout()).Summary(sum, findings)
	return nil
}
