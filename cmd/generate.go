package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/quizpack/pkg/document"
	"github.com/xhad/quizpack/pkg/orchestrator"
	"github.com/xhad/quizpack/pkg/roster"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one question page per student and write the zip archive",
		RunE:  runGenerate,
	}

	cmd.Flags().StringP("input", "i", "", "Roster workbook (.xlsx)")
	cmd.Flags().StringP("output", "o", "", "Archive path (defaults to output.archive_name)")
	cmd.Flags().Float64P("temperature", "t", 0, "Sampling temperature between 0.1 and 1.0 (defaults to llm.temperature)")
	cmd.Flags().String("token", "", "Access token for the model endpoint (defaults to GITHUB_TOKEN)")
	cmd.Flags().Bool("dry-run", false, "Use a canned generator instead of the model endpoint")
	cmd.Flags().Bool("keep", false, "Keep the per-student pages after the archive is written")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	token, _ := cmd.Flags().GetString("token")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	keep, _ := cmd.Flags().GetBool("keep")

	temperature := cfg.LLM.Temperature
	if cmd.Flags().Changed("temperature") {
		temperature, _ = cmd.Flags().GetFloat64("temperature")
	}
	if token == "" {
		token = cfg.LLM.Token
	}
	if output == "" {
		output = cfg.Output.ArchiveName
	}

	spinner := getSpinner(cmd.ErrOrStderr(), "📖 Reading roster...")
	rs, err := roster.ReadFile(input, cfg.Layout())
	spinner.Finish()
	if err != nil {
		return err
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
	if ledger != nil {
		defer ledger.Close()
	}

	id := uuid.New()
	workDir := filepath.Join(cfg.Output.WorkDir, id.String())
	writer, err := document.NewWriter(document.WriterConfig{
		OutputDir:       workDir,
		Lang:            cfg.Output.Lang,
		Title:           cfg.Output.Title,
		AllowUnsafeHTML: cfg.Output.AllowUnsafeHTML,
	})
	if err != nil {
		return err
	}

	opts := orchestrator.Options{
		ID:           id,
		NewGenerator: generatorFactory(cfg, dryRun),
		Builder:      builder,
		Writer:       writer,
		Logger:       log,
		ArchiveName:  filepath.Base(output),

		CredentialOptional: credentialOptional(cfg, dryRun),
	}
	if ledger != nil {
		opts.Ledger = ledger
	}

	run, err := orchestrator.New(opts)
	if err != nil {
		return err
	}
	if err := run.Configure(token, temperature, rs); err != nil {
		os.Remove(workDir)
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgBlue).Fprintf(out, "Generating %s / %s questions for %d students\n",
		rs.Config.Subject, rs.Config.Topic, len(rs.Students))

	bar := getProgressBar(cmd.ErrOrStderr(), len(rs.Students), "📝 Generating pages...")
	archive, err := run.Start(ctx, func(p orchestrator.Progress) {
		bar.Describe(color.BlueString("📝 %s", p.Student))
		bar.Set(p.Done)
	})
	bar.Finish()
	if err != nil {
		log.Warn("pages written before the failure are left in place", zap.String("dir", workDir))
		return err
	}

	if err := os.WriteFile(output, archive.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	if keep {
		color.New(color.FgGreen).Fprintf(out, "✓ Wrote %s (%d pages kept in %s)\n", output, len(archive.Entries), workDir)
		return nil
	}

	if err := run.Deliver(); err != nil {
		return err
	}
	os.Remove(workDir)
	color.New(color.FgGreen).Fprintf(out, "✓ Wrote %s (%d pages)\n", output, len(archive.Entries))
	return nil
}
