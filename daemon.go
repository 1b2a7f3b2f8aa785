package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"torrentbridge/internal/bus"
	"torrentbridge/internal/config"
	"torrentbridge/internal/monitor"
	"torrentbridge/internal/qbit"
	"torrentbridge/internal/store"
)

// runDaemon wires together the store, WebUI client, broker, engine, and
// consumer, then supervises the consumer loop and the poll loop until the
// shutdown context cancels.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.NewStore(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client := qbit.NewClient(
		cfg.Qbittorrent.URL,
		&http.Client{Timeout: cfg.HTTPTimeout()},
		cfg.Qbittorrent.Username,
		cfg.Qbittorrent.Password,
		logger,
	)

	conn, err := bus.Dial(ctx, cfg.AMQP.URL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	publisher, err := bus.NewPublisher(conn, cfg.AMQP.Exchange, cfg.AMQP.NotifyExchange, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	engine := monitor.NewEngine(monitor.EngineConfig{
		Store:          st,
		Client:         client,
		Publisher:      publisher,
		Notifier:       publisher,
		ServiceName:    cfg.Monitor.ServiceName,
		AlertThreshold: cfg.AlertThreshold(),
		Logger:         logger,
	})

	handler := &submitHandler{client: client, engine: engine, logger: logger}

	consumer, err := bus.NewConsumer(conn, cfg.AMQP.CommandQueue, cfg.Categories, handler, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx, cfg.PollInterval()) })

	logger.Info("torrentbridge daemon started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("torrentbridge daemon stopped")

	return nil
}

// torrentSubmitter is the subset of the WebUI client the handler needs.
type torrentSubmitter interface {
	AddTorrent(ctx context.Context, req qbit.AddRequest) (string, error)
}

// torrentTracker is the subset of the engine the handler needs.
type torrentTracker interface {
	Track(ctx context.Context, hash string, meta store.Metadata) error
}

// submitHandler turns validated commands into WebUI submissions and
// registers the resulting hash with the engine.
type submitHandler struct {
	client torrentSubmitter
	engine torrentTracker
	logger *slog.Logger
}

var _ bus.Handler = (*submitHandler)(nil)

// Handle submits the magnet to the WebUI and tracks the returned hash. A
// submission failure propagates so the consumer can requeue or drop the
// command based on whether the failure is retriable.
func (h *submitHandler) Handle(ctx context.Context, cmd bus.Command) error {
	hash, err := h.client.AddTorrent(ctx, qbit.AddRequest{
		RequestID: cmd.RequestID,
		MagnetURI: cmd.MagnetURI,
		Category:  cmd.Category,
	})
	if err != nil {
		return fmt.Errorf("submitting %s: %w", cmd.RequestID, err)
	}

	meta := store.Metadata{RequestID: cmd.RequestID, Category: cmd.Category}

	if err := h.engine.Track(ctx, hash, meta); err != nil {
		return fmt.Errorf("tracking %s: %w", cmd.RequestID, err)
	}

	h.logger.Info("torrent submitted",
		slog.String("request_id", cmd.RequestID),
		slog.String("hash", hash),
	)

	return nil
}
