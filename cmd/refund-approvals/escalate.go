package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/dukex/refund-approvals/pkg/log"
)

func NewEscalateCommand() *cli.Command {
	return &cli.Command{
		Name:    "escalate",
		Aliases: []string{"e"},
		Usage:   "Run one escalation pass over overdue approvals and exit",
		Flags: append(runtimeFlags(),
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum number of approvals to process (0 uses the configured size)",
				Sources: cli.EnvVars("ESCALATION_BATCH_SIZE"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("escalate").With("pass_id", uuid.NewString())

			rt, err := newRuntime(ctx, command, logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			count, err := rt.approvals.RunEscalationCheck(log.WithLogger(ctx, logger), command.Int("batch-size"))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(command.Root().Writer, "escalated %d approval(s)\n", count)

			return err
		},
	}
}
