package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/config"
	"github.com/gzhole/accessguard/internal/logger"
)

var (
	logFilterAction string
	logFilterErrors bool
	logLast         int
	logSummary      bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the audit log",
	Long: `View the AccessGuard audit log with filtering and summary options.

Examples:
  accessguard log                        # Show all entries
  accessguard log --last 20              # Show last 20 entries
  accessguard log --action scan          # Show only category scans
  accessguard log --errors               # Show only failed operations
  accessguard log --summary              # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterAction, "action", "", "Filter by action (load, scan, scan-all, clear, custom-create, custom-run, serve)")
	logCmd.Flags().BoolVar(&logFilterErrors, "errors", false, "Show only entries with an error")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, logPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	events, err := readAuditLog(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit log entries found.")
		return nil
	}

	filtered := filterEvents(events, logFilterAction, logFilterErrors)

	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printLogSummary(out, events)
		return nil
	}

	printEvents(out, filtered)
	return nil
}

func readAuditLog(path string) ([]logger.AuditEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []logger.AuditEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event logger.AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // skip malformed lines
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

func filterEvents(events []logger.AuditEvent, action string, errorsOnly bool) []logger.AuditEvent {
	if action == "" && !errorsOnly {
		return events
	}

	var filtered []logger.AuditEvent
	for _, e := range events {
		if action != "" && !strings.EqualFold(e.Action, action) {
			continue
		}
		if errorsOnly && e.Error == "" {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(w io.Writer, events []logger.AuditEvent) {
	for _, e := range events {
		status := "ok "
		if e.Error != "" {
			status = "ERR"
		}
		fmt.Fprintf(w, "[%s] %s %-13s", status, formatTimestamp(e.Timestamp), e.Action)
		if e.Category != "" {
			fmt.Fprintf(w, " %s", e.Category)
		}
		if e.Source != "" {
			fmt.Fprintf(w, " %s", e.Source)
		}
		fmt.Fprintln(w)

		if e.Records > 0 || e.Flagged > 0 {
			fmt.Fprintf(w, "     Records: %d  Flagged: %d  Skipped: %d  (%dms)\n", e.Records, e.Flagged, e.Skipped, e.DurationMS)
		}
		if e.Detector != "" {
			fmt.Fprintf(w, "     Detector: %s\n", e.Detector)
		}
		if e.Detail != "" {
			fmt.Fprintf(w, "     Detail: %s\n", e.Detail)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", e.Error)
		}
	}
}

func printLogSummary(w io.Writer, all []logger.AuditEvent) {
	counts := map[string]int{}
	flagged := 0
	errorCount := 0

	for _, e := range all {
		counts[e.Action]++
		if e.Action == logger.ActionScan || e.Action == logger.ActionCustomRun {
			flagged += e.Flagged
		}
		if e.Error != "" {
			errorCount++
		}
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintln(w, "  AccessGuard Audit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintf(w, "  Total events:    %d\n", len(all))
	fmt.Fprintf(w, "  Logs loaded:     %d\n", counts[logger.ActionLoad])
	fmt.Fprintf(w, "  Category scans:  %d\n", counts[logger.ActionScan])
	fmt.Fprintf(w, "  Full scans:      %d\n", counts[logger.ActionScanAll])
	fmt.Fprintf(w, "  Custom created:  %d\n", counts[logger.ActionCustomCreate])
	fmt.Fprintf(w, "  Custom runs:     %d\n", counts[logger.ActionCustomRun])
	fmt.Fprintf(w, "  Records flagged: %d\n", flagged)
	fmt.Fprintf(w, "  Errors:          %d\n", errorCount)
	fmt.Fprintln(w, "═══════════════════════════════════════════")

	fmt.Fprintf(w, "  First event:     %s\n", formatTimestamp(all[0].Timestamp))
	fmt.Fprintf(w, "  Last event:      %s\n", formatTimestamp(all[len(all)-1].Timestamp))

	var failed []logger.AuditEvent
	for _, e := range all {
		if e.Error != "" {
			failed = append(failed, e)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Recent errors:")
		limit := len(failed)
		if limit > 10 {
			limit = 10
		}
		for _, e := range failed[len(failed)-limit:] {
			fmt.Fprintf(w, "    %s %s: %s\n", formatTimestamp(e.Timestamp), e.Action, e.Error)
		}
	}

	fmt.Fprintln(w)
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
