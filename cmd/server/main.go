package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"social-backend/internal/blob"
	"social-backend/internal/projection"
	"social-backend/internal/server"
	"social-backend/internal/service"
	"social-backend/internal/storage"
	"social-backend/internal/storage/memory"
	"social-backend/internal/storage/postgres"
	"social-backend/internal/unit"
)

type config struct {
	Server   server.EnvConfig
	Postgres postgres.Config
	Blob     blob.Config

	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DBConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`
	DBMigrate        bool          `env:"DB_MIGRATE" envDefault:"true"`
	UploadTimeout    time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"30s"`
	PageMaxLimit     int           `env:"PAGE_MAX_LIMIT" envDefault:"100"`
	JoinMaxFanout    int           `env:"JOIN_MAX_FANOUT" envDefault:"1000"`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	if err := godotenv.Load(); err != nil {
		sugar.Debugf("No .env file loaded: %v", err)
	}

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	ctx := context.Background()

	backend, err := openBackend(ctx, sugar, cfg)
	if err != nil {
		sugar.Fatalf("Cannot create store: %v", err)
	}

	blobs, err := blob.New(ctx, sugar, cfg.Blob)
	if err != nil {
		sugar.Fatalf("Cannot create blob store: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	units := unit.NewCoordinator(sugar, backend, blobs, unit.WithRegisterer(reg))
	svc := service.New(sugar, backend, units, blobs, service.UploadTimeout(cfg.UploadTimeout))
	views := projection.NewBuilder(sugar, backend,
		projection.MaxLimit(cfg.PageMaxLimit),
		projection.MaxFanout(cfg.JoinMaxFanout),
		projection.WithRegisterer(reg),
	)

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg.Server),
		server.WithMetrics(reg),
		server.TimeoutHandler(cfg.Server.HandlerTimeout, "Request timed out"),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			backend.Close()
			sugar.Info("Store is closed")
		}),
	}

	srv := server.NewServer(sugar, svc, views, serverOpts...)
	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}

// openBackend returns the Entity Store selected by cfg.StoreDriver
func openBackend(ctx context.Context, logger *zap.SugaredLogger, cfg config) (storage.Backend, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("Using in-memory store, data will not survive a restart")
		return memory.New(logger), nil
	}

	store, err := postgres.New(ctx, logger, cfg.Postgres, postgres.ConnectionTimeout(cfg.DBConnectTimeout))
	if err != nil {
		return nil, err
	}
	if cfg.DBMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}
