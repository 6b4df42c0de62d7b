package main

import (
	"context"
	"fmt"
	"html"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/quizpack/internal/types"
	cfgPkg "github.com/xhad/quizpack/pkg/config"
	"github.com/xhad/quizpack/pkg/llm"
	"github.com/xhad/quizpack/pkg/logger"
	"github.com/xhad/quizpack/pkg/orchestrator"
	"github.com/xhad/quizpack/pkg/prompt"
	"github.com/xhad/quizpack/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quizpack",
		Short:         "Personalized practice questions from a class roster",
		Long:          "quizpack reads a class workbook, asks a language model for one page of practice questions per student, and bundles the pages into a zip archive.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file")

	root.AddCommand(newGenerateCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newInspectCmd())
	return root
}

// loadConfig reads and validates the config named by --config.
func loadConfig(cmd *cobra.Command) (*cfgPkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := cfgPkg.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Yellow("config: %s: %s", e.Field, e.Message)
		}
		return nil, fmt.Errorf("invalid configuration (%d problems)", len(errs))
	}
	return cfg, nil
}

func newLogger(cfg *cfgPkg.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
}

// generatorFactory returns a factory that builds a client per credential.
// The credential is only ever passed to the client, never to the environment.
func generatorFactory(cfg *cfgPkg.Config, dryRun bool) orchestrator.GeneratorFactory {
	if dryRun || cfg.LLM.Provider == "mock" {
		return func(string) (types.Generator, error) {
			mock := llm.NewMockGenerator()
			mock.Fallback = dryRunReply
			return mock, nil
		}
	}

	return func(credential string) (types.Generator, error) {
		return llm.NewWithConfig(llm.GeneratorConfig{
			Provider:  cfg.LLM.Provider,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			Token:     credential,
			MaxTokens: cfg.LLM.MaxTokens,
			RateLimit: cfg.LLM.RateLimit,
			Timeout:   cfg.LLM.Timeout(),
		})
	}
}

// credentialOptional reports whether runs may start without a token.
func credentialOptional(cfg *cfgPkg.Config, dryRun bool) bool {
	return dryRun || cfg.LLM.Provider == "ollama" || cfg.LLM.Provider == "mock"
}

func dryRunReply(_, user string) (string, error) {
	return fmt.Sprintf("<h2>dry run</h2><pre>%s</pre>", html.EscapeString(user)), nil
}

func newBuilder(cfg *cfgPkg.Config) (*prompt.Builder, error) {
	return prompt.NewBuilder(cfg.Output.Lang)
}

// openLedger connects the optional document ledger. Nil when no database is configured.
func openLedger(ctx context.Context, cfg *cfgPkg.Config, log *zap.Logger) (*store.Ledger, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}

	ledger, err := store.NewLedger(ctx, store.LedgerConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	log.Info("ledger connected", zap.String("table", cfg.Database.TableName))
	return ledger, nil
}
