package commands

import (
	"context"
	"fmt"
	"os"

	"gradewatch/internal/config"
	"gradewatch/internal/secrets"
	"gradewatch/internal/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath *string
	verbose    *bool
)

var rootCmd = &cobra.Command{
	Use:   "gradewatch",
	Short: "gradewatch watches an academic portal for grade updates and notifies you when they change.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
	SilenceUsage: true,
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The configuration file, a .local override next to it is merged on top.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// loadSecrets reads the stored secrets with GRADEWATCH_* variables (and
// the .env file) applied on top.
func loadSecrets(cfg config.Config) (secrets.Secrets, error) {
	stored, err := secrets.Load(cfg.Files.Secrets)
	if err != nil {
		return stored, err
	}
	env, err := secrets.FromEnv(cfg.Files.Env)
	if err != nil {
		return stored, err
	}
	return secrets.Merge(stored, env)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
