package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/config"
	"github.com/gzhole/accessguard/internal/custom"
	"github.com/gzhole/accessguard/internal/detector"
	"github.com/gzhole/accessguard/internal/logger"
	"github.com/gzhole/accessguard/internal/metrics"
	"github.com/gzhole/accessguard/internal/rulepack"
)

var (
	configPath string
	logPath    string
)

var rootCmd = &cobra.Command{
	Use:   "accessguard",
	Short: "AccessGuard - threat detection for web server access logs",
	Long: `AccessGuard parses web server access logs and flags requests that look
like attacks: SQL injection, path traversal, file inclusion, WordPress probes,
brute force, bots, error storms and internal address access. Rule packs and
generated custom detectors extend the built-in categories.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: ~/.accessguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Path to audit log file (default: ~/.accessguard/audit.jsonl)")
}

func Execute() error {
	return rootCmd.Execute()
}

// session bundles what a command needs: config, an orchestrator with rule
// packs and saved scripts registered, and the audit log.
type session struct {
	cfg     *config.Config
	orch    *analysis.Orchestrator
	store   *custom.Store
	metrics *metrics.Collector
	audit   *logger.AuditLogger
	packs   []rulepack.PackInfo
	rules   map[detector.Key]*rulepack.Detector
	warn    io.Writer
}

func newSession() (*session, error) {
	cfg, err := config.Load(configPath, logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	col, err := metrics.New()
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		orch:    analysis.New(detector.NewRegistry(), analysis.WithObserver(col)),
		store:   custom.NewStore(),
		metrics: col,
		rules:   make(map[detector.Key]*rulepack.Detector),
		warn:    os.Stderr,
	}

	if audit, err := logger.New(cfg.LogPath); err != nil {
		fmt.Fprintf(s.warn, "warning: audit log disabled: %v\n", err)
	} else {
		s.audit = audit
	}

	if err := s.loadPacks(); err != nil {
		s.Close()
		return nil, err
	}
	s.loadScripts()
	return s, nil
}

func (s *session) loadPacks() error {
	dets, infos, err := rulepack.LoadDir(s.cfg.PacksDir)
	if err != nil {
		return fmt.Errorf("failed to load rule packs: %w", err)
	}
	s.packs = infos
	for _, info := range infos {
		if info.Error != "" {
			fmt.Fprintf(s.warn, "warning: rule pack %s: %s\n", info.Path, info.Error)
		}
	}
	for _, d := range dets {
		if err := s.orch.Register(analysis.Static(d)); err != nil {
			fmt.Fprintf(s.warn, "warning: %v\n", err)
			continue
		}
		s.rules[d.Key()] = d
	}
	return nil
}

// loadScripts registers every saved custom detector. Broken scripts are
// reported and skipped.
func (s *session) loadScripts() {
	entries, err := os.ReadDir(s.cfg.ScriptsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), custom.ScriptExt) {
			continue
		}
		d, err := custom.LoadScript(filepath.Join(s.cfg.ScriptsDir, entry.Name()), s.customOptions()...)
		if err != nil {
			fmt.Fprintf(s.warn, "warning: %v\n", err)
			continue
		}
		if err := s.orch.Register(d); err != nil {
			fmt.Fprintf(s.warn, "warning: %v\n", err)
			continue
		}
		s.store.Add(d)
	}
}

func (s *session) customOptions() []custom.Option {
	var opts []custom.Option
	if s.cfg.Custom.RunTimeout > 0 {
		opts = append(opts, custom.WithRunTimeout(s.cfg.Custom.RunTimeout))
	}
	if s.cfg.Custom.MaxAllocs > 0 {
		opts = append(opts, custom.WithMaxAllocs(s.cfg.Custom.MaxAllocs))
	}
	if s.cfg.LLM.Timeout > 0 {
		opts = append(opts, custom.WithGenerateTimeout(s.cfg.LLM.Timeout))
	}
	return opts
}

func (s *session) log(ev logger.AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ev); err != nil {
		fmt.Fprintf(s.warn, "warning: failed to write audit log: %v\n", err)
	}
}

func (s *session) Close() {
	if s.audit != nil {
		_ = s.audit.Close()
	}
}

// loadFile streams a log file, or stdin for "-", into the corpus.
func (s *session) loadFile(path string) error {
	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to read log: %w", err)
		}
		defer f.Close()
		in = f
	}

	stats, err := s.orch.LoadReader(in)
	if err != nil {
		s.log(logger.AuditEvent{Action: logger.ActionLoad, Source: path, Error: err.Error()})
		return fmt.Errorf("failed to read log: %w", err)
	}
	s.log(logger.AuditEvent{
		Action:  logger.ActionLoad,
		Source:  path,
		Records: stats.Parsed,
		Skipped: stats.Skipped,
	})
	if stats.Skipped > 0 {
		fmt.Fprintf(s.warn, "%d of %d lines did not match the access-log format and were skipped\n", stats.Skipped, stats.Lines)
	}
	return nil
}
