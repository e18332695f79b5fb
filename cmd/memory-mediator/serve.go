package main

import (
	"github.com/spf13/cobra"

	"github.com/ai-cherry/memory-mediator/internal/logger"
	"github.com/ai-cherry/memory-mediator/mediatorservice"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the dead-letter replayer",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("memory-mediator")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := mediatorservice.Run(cfg, log); err != nil {
				log.Error().Err(err).Msg("memory-mediator exited with error")
				return err
			}
			return nil
		},
	}
}
