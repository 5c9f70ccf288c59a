package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/egannguyen/storefront/internal/cache"
	"github.com/egannguyen/storefront/internal/config"
	httpdelivery "github.com/egannguyen/storefront/internal/delivery/http"
	"github.com/egannguyen/storefront/internal/messaging"
	"github.com/egannguyen/storefront/internal/messaging/kafka"
	"github.com/egannguyen/storefront/internal/messaging/watermill"
	"github.com/egannguyen/storefront/internal/repository"
	"github.com/egannguyen/storefront/internal/repository/memory"
	"github.com/egannguyen/storefront/internal/repository/postgres"
	"github.com/egannguyen/storefront/internal/service"
	"github.com/egannguyen/storefront/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.Tracing.Exporter)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("Failed to flush traces", "err", err)
		}
	}()

	// --- Store ---
	repos, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Cache ---
	var itemCache cache.ItemCache = cache.Nop{}
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisItemCache(ctx, cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		itemCache = redisCache
		slog.Info("Item cache enabled", "ttl", cfg.Redis.TTL)
	}

	// --- Messaging ---
	publisher, subscriber, closeBroker, err := openBroker(cfg.Messaging, logger)
	if err != nil {
		return err
	}
	defer closeBroker()
	publisher = messaging.NewBreakerPublisher(publisher, messaging.BreakerSettings{
		Name:        "orders-publisher",
		MaxFailures: cfg.Messaging.BreakerTrips,
		OpenTimeout: cfg.Messaging.BreakerWindow,
	})

	// --- Services ---
	catalog := service.NewCatalogService(repos.Items, repos.Users, itemCache)
	orders := service.NewOrderService(repos.Users, repos.Orders, repos.Ledger, itemCache, publisher)
	audit := service.NewAuditService(repos.Events)

	var wg sync.WaitGroup
	if subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			audit.Run(ctx, subscriber, cfg.Messaging.AuditGroup)
		}()
	}

	// --- HTTP API ---
	handler := httpdelivery.NewHandler(catalog, orders, audit, repos.Ping)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: otelhttp.NewHandler(handler.Routes(), "storefront.http"),
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("🚀 HTTP server starting", "addr", cfg.HTTP.Addr, "store", cfg.Store.Kind, "messaging", cfg.Messaging.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		cancel()
	}

	slog.Info("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "err", err)
	}
	wg.Wait()
	return err
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (repository.Repositories, func(), error) {
	switch cfg.Kind {
	case config.StoreMemory:
		slog.Warn("Using in-memory store, data is lost on exit")
		return memory.NewStore().Repositories(), func() {}, nil
	case config.StorePostgres:
		db, err := postgres.InitDB(ctx, cfg.Driver, cfg.DatabaseURL, cfg.ConnectWait)
		if err != nil {
			return repository.Repositories{}, nil, fmt.Errorf("failed to init database: %w", err)
		}
		return postgres.NewRepositories(db), func() { db.Close() }, nil
	default:
		return repository.Repositories{}, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// openBroker returns a nil Subscriber when messaging is disabled.
func openBroker(cfg config.MessagingConfig, logger *slog.Logger) (messaging.Publisher, messaging.Subscriber, func(), error) {
	closeWith := func(name string, closeFn func() error) func() {
		return func() {
			if err := closeFn(); err != nil {
				slog.Error("Failed to close broker", "driver", name, "err", err)
			}
		}
	}

	retry := messaging.DefaultRetryPolicy()
	switch cfg.Driver {
	case config.MessagingNone:
		return messaging.NopPublisher{}, nil, func() {}, nil
	case config.MessagingGoChannel:
		b := watermill.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, retry, logger)
		return b, b, closeWith(cfg.Driver, b.Close), nil
	case config.MessagingKafka:
		b := kafka.NewBroker(cfg.Brokers, retry)
		return b, b, closeWith(cfg.Driver, b.Close), nil
	case config.MessagingWatermillKafka:
		b, err := watermill.NewKafka(cfg.Brokers, cfg.ClientID, retry, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, closeWith(cfg.Driver, b.Close), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown messaging driver %q", cfg.Driver)
	}
}
