package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/dukex/refund-approvals/pkg/cmd"
	"github.com/dukex/refund-approvals/pkg/config"
	"github.com/dukex/refund-approvals/pkg/eventbus"
	"github.com/dukex/refund-approvals/pkg/lock"
	"github.com/dukex/refund-approvals/pkg/notification"
	"github.com/dukex/refund-approvals/pkg/otelhelper"
	"github.com/dukex/refund-approvals/pkg/protocol"
	"github.com/dukex/refund-approvals/pkg/refunds"
	"github.com/dukex/refund-approvals/pkg/services"
	"github.com/dukex/refund-approvals/pkg/web"
)

// runtime holds the wired service and the resources to release on exit.
type runtime struct {
	logger    *slog.Logger
	approvals *services.Approvals
	bus       eventbus.EventBus
	snapshots web.SnapshotStore
	closers   []func(context.Context) error
}

func newRuntime(ctx context.Context, command *cli.Command, logger *slog.Logger) (*runtime, error) {
	cfg, err := config.Load(command.String("engine-config"))
	if err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger}

	if command.Bool("tracing") {
		_, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		rt.closers = append(rt.closers, shutdown)
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.closers = append(rt.closers, store.Close)

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.bus = bus
	rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })

	var manager protocol.RefundManager

	if url := command.String("refund-service-url"); url != "" {
		manager = refunds.NewClient(url, logger)
	} else {
		memory := refunds.NewMemory()
		manager = memory
		rt.snapshots = memory

		logger.WarnContext(ctx, "No refund service configured, refund snapshots are kept in memory")
	}

	locker, err := rt.newLocker(ctx, command.String("redis-url"))
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	approvals, err := services.NewApprovals(services.Dependencies{
		Persistence: store,
		Refunds:     refunds.NewEventBusStatusPublisher(manager, bus, logger),
		Notifier:    notification.NewEventBusNotifier(bus, logger),
		EventBus:    bus,
		Locker:      locker,
		Config:      cfg,
		Logger:      logger,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.approvals = approvals

	return rt, nil
}

// nolint:ireturn
func (rt *runtime) newLocker(ctx context.Context, redisURL string) (lock.Locker, error) {
	if redisURL == "" {
		return lock.NewMemory(), nil
	}

	locker, err := lock.NewRedisFromURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis locker: %w", err)
	}

	rt.closers = append(rt.closers, func(context.Context) error { return locker.Close() })

	if err := locker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return locker, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.ErrorContext(ctx, "Failed to release resource", "error", err)
		}
	}

	rt.closers = nil
}
