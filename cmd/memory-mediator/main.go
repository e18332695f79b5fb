package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ai-cherry/memory-mediator/internal/config"
)

var (
	buildTargetFlag string
	rootCmd         = &cobra.Command{
		Use:           "memory-mediator",
		Short:         "Multi-tier memory mediator service and maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	// Optional build-target override (local | cloud-dev | cloud)
	rootCmd.PersistentFlags().StringVar(&buildTargetFlag, "build-target", "", "Override BUILD_TARGET (local, cloud-dev, cloud)")

	rootCmd.AddCommand(newServeCmd(), newReplayCmd(), newPurgeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the build-target override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if buildTargetFlag != "" {
		cfg.BuildTarget = buildTargetFlag
		// Re-derive drivers for the new target.
		cfg.StoreDriver, cfg.IndexDriver = "auto", "auto"
		if err := cfg.ResolveDefaults(); err != nil {
			return nil, fmt.Errorf("invalid build-target override: %w", err)
		}
	}
	return cfg, nil
}
