package main

import (
	"errors"
	"net/http"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/xhad/quizpack/pkg/metrics"
	"github.com/xhad/quizpack/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload page and run API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (defaults to server.addr)")
	cmd.Flags().Bool("dry-run", false, "Use a canned generator instead of the model endpoint")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	builder, err := newBuilder(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ledger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}

	serverCfg := server.Config{
		Addr:           cfg.Server.Addr,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Layout:         cfg.Layout(),
		NewGenerator:   generatorFactory(cfg, dryRun),
		Builder:        builder,
		WorkDir:        cfg.Output.WorkDir,
		Lang:           cfg.Output.Lang,
		Title:          cfg.Output.Title,
		AllowUnsafe:    cfg.Output.AllowUnsafeHTML,
		ArchiveName:    cfg.Output.ArchiveName,
		Metrics:        metrics.New(),
		Logger:         log,

		CredentialOptional: credentialOptional(cfg, dryRun),
	}
	if ledger != nil {
		defer ledger.Close()
		serverCfg.Ledger = ledger
	}

	srv, err := server.New(serverCfg)
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintf(cmd.OutOrStdout(), "Listening on %s\n", cfg.Server.Addr)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
