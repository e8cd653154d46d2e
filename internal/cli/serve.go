package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ethbank/internal/api"
	"github.com/roach88/ethbank/internal/config"
	"github.com/roach88/ethbank/internal/engine"
	"github.com/roach88/ethbank/internal/events"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// IDGenerator overrides event IDs (for testing).
	// If nil, defaults to events.UUIDv7Generator.
	IDGenerator engine.IDGenerator

	// Ready receives the bound address once the listener is up (for testing).
	Ready chan<- net.Addr
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the transfer engine and HTTP API",
		Long: `Start the single-writer transfer engine and serve the HTTP API.

The store is opened (and created if needed) from the configured driver, the
genesis block is applied to an empty ledger, and every committed transfer is
published on /api/events. When events.kafka.brokers is set, events are also
forwarded to Kafka.

Example:
  ethbank serve
  ethbank serve --addr :9000 --config ./ethbank.yaml -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := setupLogging(cmd.ErrOrStderr(), opts.Verbose)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd.Context))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return withLedger(ctx, opts.RootOptions, func(cfg *config.Config, st ledgerStore) error {
		addr := cfg.Server.Addr
		if opts.Addr != "" {
			addr = opts.Addr
		}

		bus := events.NewBus(events.WithBusLogger(logger))
		defer bus.Close()

		ids := opts.IDGenerator
		if ids == nil {
			ids = events.UUIDv7Generator{}
		}
		eng := engine.New(st,
			engine.WithPublisher(bus),
			engine.WithIDGenerator(ids),
			engine.WithMaxMessageBytes(cfg.Ledger.MaxMessageBytes),
			engine.WithLogger(logger),
		)

		// The engine outlives ctx: requests accepted before shutdown still
		// complete, and Stop below ends the loop once the server is down.
		engineDone := make(chan error, 1)
		go func() { engineDone <- eng.Run(context.WithoutCancel(ctx)) }()

		forwardDone := startKafkaForwarder(ctx, cfg, bus, logger)

		srv := api.NewServer(eng, st, bus,
			api.WithLogger(logger),
			api.WithEventBuffer(cfg.Events.Buffer),
		)

		fmt.Fprintf(cmd.OutOrStdout(), "Serving ledger API on %s\n", addr)
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

		serveErr := srv.ListenAndServe(ctx, addr, opts.Ready)

		// No new requests arrive once the server is down.
		eng.Stop()
		engineErr := <-engineDone
		bus.Close()
		if forwardDone != nil {
			<-forwardDone
		}

		if serveErr != nil {
			return WrapExitError(ExitCommandError, "server error", serveErr)
		}
		if engineErr != nil {
			return WrapExitError(ExitFailure, "engine error", engineErr)
		}

		slog.Info("engine stopped gracefully")
		return nil
	})
}

// startKafkaForwarder forwards bus events to Kafka when brokers are
// configured. The returned channel closes when forwarding ends; it is nil
// when Kafka is disabled.
func startKafkaForwarder(ctx context.Context, cfg *config.Config, bus *events.Bus, logger *slog.Logger) <-chan struct{} {
	if !cfg.KafkaEnabled() {
		return nil
	}

	sink := events.NewKafkaSink(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
	sub := bus.Subscribe(cfg.Events.Buffer)
	done := make(chan struct{})

	logger.Info("forwarding events to kafka",
		"brokers", cfg.Events.Kafka.Brokers,
		"topic", cfg.Events.Kafka.Topic,
	)

	go func() {
		defer close(done)
		defer sub.Close()
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Error("error closing kafka writer", "error", err)
			}
		}()
		// The bus closes after the engine stops, which ends Forward with every
		// published event delivered. ctx is only used for in-flight writes.
		if err := events.Forward(context.WithoutCancel(ctx), sub, sink, logger); err != nil {
			logger.Error("event forwarding stopped", "error", err)
		}
	}()

	return done
}
