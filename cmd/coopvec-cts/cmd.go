package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-coopvec/internal/config"
	"github.com/23skdu/longbow-coopvec/internal/logger"
)

// flagSettings maps command line flags to config keys.
var flagSettings = map[string]string{
	"workers":   "workers",
	"results":   "results_file",
	"flight":    "flight_addr",
	"metrics":   "metrics_addr",
	"fail-fast": "fail_fast",
	"timeout":   "case_timeout",
	"log-level": "log_level",
	"log-fmt":   "log_format",
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coopvec-cts",
		Short: "Cooperative vector conformance tests",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-fmt", "console", "Log format (console, json)")
	flags.StringArray("set", nil, "Config setting as key=value, repeatable")

	listCmd := &cobra.Command{
		Use:     "list [prefix]",
		Aliases: []string{"ls"},
		Args:    cobra.MaximumNArgs(1),
		Short:   "List test groups or cases",
		RunE:    listHandler,
	}
	listCmd.Flags().Bool("cases", false, "List every case instead of group totals")

	runCmd := &cobra.Command{
		Use:   "run [prefix]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Run cases against the emulator",
		RunE:  runHandler,
	}
	runCmd.Flags().Int("workers", 0, "Cases run in parallel")
	runCmd.Flags().String("results", "", "Write results to an Arrow IPC file")
	runCmd.Flags().String("flight", "", "Send results to a Flight server at host:port")
	runCmd.Flags().String("metrics", "", "Serve health and Prometheus metrics on this address")
	runCmd.Flags().Bool("fail-fast", false, "Stop at the first failing case")
	runCmd.Flags().Duration("timeout", 0, "Abort a case that runs longer")

	shaderCmd := &cobra.Command{
		Use:   "shader <case>",
		Args:  cobra.ExactArgs(1),
		Short: "Print the program synthesized for a case",
		RunE:  shaderHandler,
	}

	rootCmd.AddCommand(listCmd, runCmd, shaderCmd)
	return rootCmd
}

// loadConfig merges --set pairs and explicitly given flags over the
// defaults, validates the result and configures logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	settings := make(map[string]interface{})
	pairs, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return config.Config{}, err
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return config.Config{}, fmt.Errorf("invalid setting %q (must be key=value)", p)
		}
		settings[k] = v
	}
	for name, key := range flagSettings {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			settings[key] = f.Value.String()
		}
	}

	cfg, err := config.FromMap(settings)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}
