package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/writerr/changepipeline/internal/config"
	"github.com/writerr/changepipeline/internal/core"
)

var rootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "Administer and exercise the change pipeline without an MCP client",
	Long:  `pipelinectl wires the same internal/core.Core an MCP server would, and drives its submit/accept/reject/query/export/register_producer operations directly from the shell.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (overrides WRITERR_CONFIG_PATH)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// buildCore loads configuration and constructs a fresh, in-process Core.
// pipelinectl is a one-shot administration tool: each invocation starts
// from the session manager's on-disk state, but the in-memory change
// store and query index are empty until changes are resubmitted or
// replayed from a session snapshot.
func buildCore(cmd *cobra.Command) (*core.Core, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		os.Setenv("WRITERR_CONFIG_PATH", path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	coreCfg := core.DefaultConfig(cfg.Persistence.Root)
	coreCfg.Session = cfg.SessionConfig()
	coreCfg.ClusterConfig = cfg.ClusterConfig()
	coreCfg.BatchConfig = cfg.BatchConfig()
	coreCfg.GovernorConfig = cfg.GovernorOptions()

	return core.New(logger, coreCfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
