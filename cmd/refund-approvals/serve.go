package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dukex/refund-approvals/pkg/log"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the approval API and the escalation scheduler",
		Flags: append(runtimeFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   9091,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "no-scheduler",
				Usage:   "Serve the API without running escalation passes",
				Sources: cli.EnvVars("DISABLE_SCHEDULER"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")
			logger.Info("Initializing refund approvals API")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, command, logger)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if err := registerAuditHandlers(rt.bus, logger); err != nil {
				return fmt.Errorf("failed to register audit handlers: %w", err)
			}

			if err := rt.bus.Subscribe(ctx); err != nil {
				return fmt.Errorf("failed to subscribe to events: %w", err)
			}

			if !command.Bool("no-scheduler") {
				if err := rt.approvals.StartScheduler(ctx); err != nil {
					return fmt.Errorf("failed to start escalation scheduler: %w", err)
				}
			}

			api := NewAPI(logger, rt.approvals, rt.snapshots)

			errCh := make(chan error, 1)

			go func() {
				errCh <- api.Start(command.Int("port"))
			}()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				logger.Info("Shutting down refund approvals API")
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			return errors.Join(
				err,
				api.App().ShutdownWithContext(shutdownCtx),
				rt.approvals.StopScheduler(shutdownCtx),
			)
		},
	}
}
