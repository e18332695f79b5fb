package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ai-cherry/memory-mediator/internal/factory"
	"github.com/ai-cherry/memory-mediator/internal/logger"
	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

type replayer interface {
	ReplayOnce(ctx context.Context) (propagation.ReplayReport, error)
	Run(ctx context.Context) error
}

type purger interface {
	Purge(ctx context.Context, id string, p model.Principal) error
}

func newReplayCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "replay-dead-letters",
		Short: "Re-apply changes that exhausted their propagation attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			comps, err := buildComponents(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = comps.Close() }()
			return runReplay(ctx, comps.Replayer, follow, os.Stdout)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep replaying until interrupted")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var operator, namespace string
	cmd := &cobra.Command{
		Use:   "purge <id>",
		Short: "Permanently remove a record from every tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := buildComponents(cmd.Context())
			if err != nil {
				return err
			}
			// Close drains the pipeline so the purge reaches every tier.
			defer func() { _ = comps.Close() }()
			p := model.Principal{ID: operator, Role: model.RoleExecutive, Namespace: namespace}
			return runPurge(cmd.Context(), comps.Mediator, p, args[0], os.Stdout)
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "operator", "Principal id recorded for the purge")
	cmd.Flags().StringVar(&namespace, "namespace", "admin", "Namespace of the operator principal")
	return cmd
}

func buildComponents(ctx context.Context) (*factory.Components, error) {
	log := logger.New("memory-mediator")
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return factory.Build(ctx, cfg, log)
}

func runReplay(ctx context.Context, r replayer, follow bool, out io.Writer) error {
	if follow {
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	report, err := r.ReplayOnce(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(report)
}

func runPurge(ctx context.Context, m purger, p model.Principal, id string, out io.Writer) error {
	if id == "" {
		return fmt.Errorf("record id required")
	}
	if err := m.Purge(ctx, id, p); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "purged %s\n", id)
	return err
}
