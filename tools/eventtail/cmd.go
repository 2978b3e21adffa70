package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sociomile/realtime-go/realtime"
	"github.com/sociomile/realtime-go/session"
	"github.com/spf13/cobra"
)

func newRootCommand(stdout io.Writer, stderr io.Writer) *cobra.Command {
	command := &cobra.Command{
		Use:   "eventtail",
		Short: "Tail a console event stream",
		Long: `eventtail opens the console's /ws event stream with a session token and
prints every envelope it receives. The connection is re-established with
exponential backoff until the command is interrupted.

Settings come from flags, EVENTTAIL_* environment variables (for example
EVENTTAIL_TOKEN or EVENTTAIL_LOG_LEVEL) and an optional eventtail.yaml.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return tail(ctx, cfg, stdout, logger)
		},
	}
	command.SetOut(stdout)
	command.SetErr(stderr)
	registerFlags(command.Flags())
	return command
}

// tail streams envelopes to out until ctx ends or cfg.Count envelopes have
// been printed.
func tail(ctx context.Context, cfg config, out io.Writer, logger *slog.Logger) error {
	printer, err := newPrinter(cfg.Output, out)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := session.NewStore()
	if cfg.Token != "" {
		store.Login(cfg.Token, nil)
	}

	events := make(chan realtime.Envelope, 64)
	deliver := func(envelope realtime.Envelope) {
		select {
		case events <- envelope:
		case <-ctx.Done():
		}
	}

	client := realtime.NewClient(
		realtime.WithEndpoint(cfg.Endpoint),
		realtime.WithTokenProvider(store),
		realtime.WithLogger(logger),
		realtime.WithHandshakeTimeout(cfg.HandshakeTimeout),
		realtime.WithDelayStrategy(realtime.NewExponentialDelayStrategy(
			cfg.ReconnectDelay, cfg.MaxReconnectDelay, realtime.DefaultReconnectFactor,
		)),
		realtime.WithExceptionListener(realtime.ExceptionListenerFunc(func(err error) {
			logger.Debug("stream error", "error", err)
		})),
	)
	defer client.Disconnect()
	removeLogout := store.DisconnectOnLogout(client)
	defer removeLogout()

	outbound := cfg.outbound()
	var sendOnce sync.Once
	client.AddConnectionStateListener(realtime.ConnectionStateListenerFunc(func(state realtime.State) {
		logger.Info("stream state", "state", state.String())
		if state != realtime.StateOpen || len(outbound) == 0 {
			return
		}
		sendOnce.Do(func() {
			for _, envelope := range outbound {
				var payload interface{}
				if envelope.Payload != nil {
					payload = envelope.Payload
				}
				if !client.Send(envelope.Type, payload) {
					logger.Warn("send failed", "type", envelope.Type)
				}
			}
		})
	}))

	if len(cfg.Topics) == 0 {
		client.SubscribeAll(deliver)
	} else {
		for _, topic := range cfg.Topics {
			topic := topic
			client.Subscribe(topic, func(payload json.RawMessage) {
				deliver(realtime.Envelope{Type: topic, Payload: payload})
			})
		}
	}

	client.Connect()
	defer store.Logout()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope := <-events:
			if err := printer.Print(envelope); err != nil {
				return fmt.Errorf("print envelope: %w", err)
			}
			printed++
			if cfg.Count > 0 && printed >= cfg.Count {
				return nil
			}
		}
	}
}
