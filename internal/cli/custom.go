package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/approval"
	"github.com/gzhole/accessguard/internal/custom"
	"github.com/gzhole/accessguard/internal/detector"
	"github.com/gzhole/accessguard/internal/export"
	"github.com/gzhole/accessguard/internal/llm"
	"github.com/gzhole/accessguard/internal/logger"
	"github.com/gzhole/accessguard/internal/ui"
)

var (
	customSave   bool
	customYes    bool
	customRunLog string
	customScript string
	customFormat string
)

var customCmd = &cobra.Command{
	Use:   "custom",
	Short: "Create and run custom detectors",
	Long: `Custom detectors are sandboxed scripts that define
detect_threats := func(entries) and return the suspicious entries.

A text-generation service writes the script from a plain-language
description. Configure it in ~/.accessguard/config.yaml (llm.provider,
llm.endpoint, llm.model) and export the API key in the variable named by
llm.api_key_env.

Examples:
  accessguard custom create "requests to /admin from outside 10.0.0.0/8" --save
  accessguard custom create "POST floods against /xmlrpc.php" --run access.log
  accessguard custom run access.log --script ~/.accessguard/scripts/admin-access.tengo
  accessguard custom list`,
}

var customCreateCmd = &cobra.Command{
	Use:   "create <description>",
	Short: "Generate a detector from a description",
	Args:  cobra.MinimumNArgs(1),
	RunE:  customCreate,
}

var customRunCmd = &cobra.Command{
	Use:   "run <logfile>",
	Short: "Run a saved detector script against a log",
	Args:  cobra.ExactArgs(1),
	RunE:  customRun,
}

var customListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved detector scripts",
	Args:  cobra.NoArgs,
	RunE:  customList,
}

func init() {
	customCreateCmd.Flags().BoolVar(&customSave, "save", false, "Save the script to the scripts directory")
	customCreateCmd.Flags().BoolVarP(&customYes, "yes", "y", false, "Accept the generated script without review")
	customCreateCmd.Flags().StringVar(&customRunLog, "run", "", "Run the new detector against this log")

	customRunCmd.Flags().StringVar(&customScript, "script", "", "Path to a detector script")
	customRunCmd.Flags().StringVar(&customFormat, "format", "table", "Output format: table, json or csv")
	_ = customRunCmd.MarkFlagRequired("script")

	customCmd.AddCommand(customCreateCmd)
	customCmd.AddCommand(customRunCmd)
	customCmd.AddCommand(customListCmd)
	rootCmd.AddCommand(customCmd)
}

func customCreate(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := llm.New(s.cfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("text generation is not configured (API key is read from $%s): %w", s.cfg.LLM.APIKeyEnv, err)
	}

	description := strings.Join(args, " ")
	builder := custom.NewBuilder(client, s.customOptions()...)

	fmt.Fprintf(s.warn, "Generating detector with %s...\n", client.Provider().Name)
	d, err := builder.Propose(cmd.Context(), description)
	ev := logger.AuditEvent{Action: logger.ActionCustomCreate, Detail: description}
	if err != nil {
		ev.Error = err.Error()
		s.log(ev)
		return err
	}
	ev.Detector = string(d.Key())

	if !customYes {
		res := approval.AskTerminal(approval.Prompt{
			Name:        d.Name(),
			Description: d.Description(),
			Source:      d.Source(),
		})
		if !res.Approved {
			ev.Error = "rejected: " + res.UserAction
			s.log(ev)
			fmt.Fprintln(s.warn, "Detector discarded.")
			return nil
		}
	}
	s.log(ev)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s (%s)\n", d.Name(), d.Key())
	if customSave {
		path, err := custom.SaveScript(s.cfg.ScriptsDir, d)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved to %s\n", path)
	} else if customYes {
		fmt.Fprintln(out, d.Source())
	}

	if customRunLog == "" {
		return nil
	}
	if err := s.orch.Register(d); err != nil {
		return err
	}
	if err := s.loadFile(customRunLog); err != nil {
		return err
	}
	return runCustom(cmd, s, d, customRunLog, "table")
}

func customRun(cmd *cobra.Command, args []string) error {
	switch customFormat {
	case "table", "json", "csv":
	default:
		return fmt.Errorf("unsupported format %q", customFormat)
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := custom.LoadScript(customScript, s.customOptions()...)
	if err != nil {
		return err
	}
	if err := s.orch.Register(d); err != nil {
		return err
	}
	if err := s.loadFile(args[0]); err != nil {
		return err
	}
	return runCustom(cmd, s, d, args[0], customFormat)
}

func runCustom(cmd *cobra.Command, s *session, d *custom.Detector, source, format string) error {
	start := time.Now()
	res, err := s.orch.RunCategory(cmd.Context(), d.Key())
	ev := logger.AuditEvent{
		Action:     logger.ActionCustomRun,
		Source:     source,
		Detector:   d.Name(),
		Category:   string(d.Key()),
		Records:    s.orch.Len(),
		Flagged:    res.Count,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
		s.log(ev)
		return err
	}
	s.log(ev)

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return export.WriteJSON(out, map[detector.Key]analysis.Result{d.Key(): res})
	case "csv":
		return export.WriteCSV(out, res.Results)
	default:
		ui.NewPrinter(out).Results(d.Name(), analysis.Page(res, analysis.DefaultLimit, 0))
		return nil
	}
}

func customList(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	list := s.store.List()
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintf(out, "No saved detectors in %s\n", s.cfg.ScriptsDir)
		return nil
	}
	rows := make([][]string, len(list))
	for i, d := range list {
		rows[i] = []string{d.Name(), string(d.Key()), d.Description()}
	}
	ui.NewPrinter(out).Table([]string{"NAME", "KEY", "DESCRIPTION"}, rows)
	return nil
}
