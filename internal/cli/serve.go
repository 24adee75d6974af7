package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/custom"
	"github.com/gzhole/accessguard/internal/llm"
	"github.com/gzhole/accessguard/internal/logger"
	"github.com/gzhole/accessguard/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis API over HTTP",
	Long: `Start an HTTP API for loading logs and running detectors.

  PUT    /api/corpus              load raw log text
  GET    /api/scan[/:category]    run detectors (limit, offset, format=json|csv)
  GET    /api/summary             aggregate statistics and findings
  POST   /api/custom              generate a custom detector
  GET    /metrics                 Prometheus metrics

  accessguard serve --addr :8080`,
	Args: cobra.NoArgs,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8080)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	addr := s.cfg.ServerAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	opts := server.Options{Metrics: s.metrics, Audit: s.audit}
	if client, err := llm.New(s.cfg.ClientConfig()); err != nil {
		fmt.Fprintf(s.warn, "custom detector generation disabled: %v\n", err)
	} else {
		opts.Builder = custom.NewBuilder(client, s.customOptions()...)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(s.orch, s.store, opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.log(logger.AuditEvent{Action: logger.ActionServe, Detail: addr})
	fmt.Fprintf(s.warn, "AccessGuard listening on %s\n", addr)
	return srv.Run(ctx, addr)
}
