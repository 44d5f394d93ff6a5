package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Anvoria/keyrelay/internal/cache"
	"github.com/Anvoria/keyrelay/internal/config"
	"github.com/Anvoria/keyrelay/internal/database"
	"github.com/Anvoria/keyrelay/internal/domain/auth"
	"github.com/Anvoria/keyrelay/internal/domain/session"
	"github.com/Anvoria/keyrelay/internal/ledger"
	"github.com/Anvoria/keyrelay/internal/metrics"
	"github.com/Anvoria/keyrelay/internal/migrations"
	"github.com/Anvoria/keyrelay/internal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the components the HTTP layer is built from
type Dependencies struct {
	Sessions session.ServiceInterface
	Metrics  *metrics.Metrics
	// KeyStore is nil when the bearer token gate is disabled
	KeyStore *auth.KeyStore
}

// Start wires the session store, revocation cache, ledger gateway and reaper,
// then serves HTTP until ctx is cancelled. Shutdown waits for in-flight
// requests up to a fixed timeout and stops the reaper between sessions.
func Start(ctx context.Context, cfg *config.Config) error {
	InitLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	repo, db, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	var revocations session.RevocationCache
	if cfg.Redis.Enabled {
		client, err := cache.ConnectRedis(&cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			return err
		}
		defer client.Close()
		revocations = cache.NewRevocationCache(client)
	}

	gateway, err := ledger.Dial(&cfg.Ledger)
	if err != nil {
		slog.Error("Failed to configure ledger gateway", "error", err)
		return err
	}
	slog.Info("Ledger gateway configured",
		"rpc_url", cfg.Ledger.RPCURL,
		"program_id", gateway.ProgramID().String(),
		"require_onchain", cfg.Ledger.RequireOnChain,
	)

	m := metrics.New()

	var keyStore *auth.KeyStore
	if cfg.Auth.Enabled {
		keyStore, err = loadKeyStore(&cfg.Auth)
		if err != nil {
			return err
		}
	}

	svc := session.NewService(repo, gateway, session.Options{
		MaxTTL:         cfg.Session.MaxTTLDuration(),
		MinTTL:         cfg.Session.MinTTLDuration(),
		RequireOnChain: cfg.Ledger.RequireOnChain,
		Cache:          revocations,
		Metrics:        m,
	})

	app := NewApp(cfg, Dependencies{Sessions: svc, Metrics: m, KeyStore: keyStore})

	addr := cfg.Server.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("Failed to bind server address", "address", addr, "error", err)
		return fmt.Errorf("failed to start server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Reaper.Enabled {
		reaper := session.NewReaper(repo, session.ReaperOptions{
			Interval:  cfg.Reaper.IntervalDuration(),
			BatchSize: cfg.Reaper.BatchSize,
			Cache:     revocations,
			Metrics:   m,
		})
		g.Go(func() error {
			return reaper.Run(gctx)
		})
	}

	g.Go(func() error {
		slog.Info("Server starting",
			"address", ln.Addr().String(),
			"app", cfg.App.Name,
			"version", cfg.App.Version,
		)
		if err := app.Listener(ln); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")
		err := app.ShutdownWithTimeout(shutdownTimeout)
		// a Serve that starts after shutdown returns once its listener is closed
		_ = ln.Close()
		if err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped")
	return nil
}

// NewApp builds the Fiber app with middleware and routes but does not listen
func NewApp(cfg *config.Config, deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: utils.FiberErrorHandler,
	})

	app.Use(recover.New())
	app.Use(helmet.New())

	if cfg.Server.RateLimit.Max > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Server.RateLimit.Max,
			Expiration: time.Duration(cfg.Server.RateLimit.Expiration) * time.Second,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return utils.ErrorResponse(c, utils.ErrTooManyRequest)
			},
		}))
	}

	if len(cfg.Server.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:  strings.Join(cfg.Server.AllowedOrigins, ","),
			AllowMethods:  "GET,POST,OPTIONS",
			AllowHeaders:  "Origin,Content-Type,Accept,Authorization",
			ExposeHeaders: "Content-Length",
			MaxAge:        3600,
		}))
	}

	SetupRoutes(app, cfg, deps)
	return app
}

func openRepository(cfg *config.Config) (session.Repository, *gorm.DB, error) {
	if cfg.Database.Driver == config.DriverMemory {
		slog.Warn("Using in-memory session store, sessions will not survive a restart")
		return session.NewMemoryRepository(), nil, nil
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return nil, nil, err
	}

	if err := migrations.RunMigrations(&cfg.Database, db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		_ = database.Close(db)
		return nil, nil, err
	}
	slog.Info("Migrations completed successfully")

	return session.NewRepository(db), db, nil
}

func loadKeyStore(cfg *config.AuthConfig) (*auth.KeyStore, error) {
	keyStore, err := auth.LoadKeys(cfg.KeysPath, cfg.ActiveKID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}

	activeKey, err := keyStore.GetActiveKey()
	if err != nil {
		return nil, fmt.Errorf("active key with KID %s not found in key store: %w", cfg.ActiveKID, err)
	}

	keyID, _ := activeKey.KeyID()
	slog.Info("Active key loaded", "key", cfg.ActiveKID, "key_id", keyID)
	return keyStore, nil
}

// InitLogger installs the default slog logger
func InitLogger(level, format string, w io.Writer) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
