package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/csword/mailtrack/internal/handler"
	"github.com/csword/mailtrack/internal/infra/postgresql/migrations"
	"github.com/csword/mailtrack/internal/transport"
)

const shutdownTimeout = 10 * time.Second

var serveWithScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracking HTTP API and, when ADMIN_PORT is set, the operator API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithScheduler, "with-scheduler", false, "run the delivery scheduler in the same process")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cfg, logger, appOptions{withEvents: true})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := migrations.Migrate(app.db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	public, err := newPublicServer(app)
	if err != nil {
		return err
	}
	var admin *fiber.App
	if cfg.AdminEnabled() {
		if admin, err = newAdminServer(app); err != nil {
			return err
		}
	} else {
		logger.Info("admin api disabled, set ADMIN_PORT to enable it")
	}

	ctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, logger, "public", cfg.APIPort, public)
	if admin != nil {
		serveHTTP(gctx, g, logger, "admin", cfg.AdminPort, admin)
	}

	if serveWithScheduler {
		g.Go(func() error {
			err := app.scheduler.Start(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("mailtrack api stopped")
	return nil
}

func serveHTTP(ctx context.Context, g *errgroup.Group, logger *zap.Logger, name string, port int, server *fiber.App) {
	g.Go(func() error {
		logger.Info("mailtrack http server started", zap.String("listener", name), zap.Int("port", port), zap.Bool("scheduler", serveWithScheduler))
		return server.Listen(fmt.Sprintf(":%d", port))
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down http server", zap.String("listener", name))
		return server.ShutdownWithTimeout(shutdownTimeout)
	})
}

func newFiberApp(app *application, name string) *fiber.App {
	server := fiber.New(fiber.Config{
		AppName:               name,
		ErrorHandler:          transport.ErrorHandler(app.logger),
		DisableStartupMessage: true,
	})

	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(handler.RequestContext())
	server.Use(app.metrics.HTTPMiddleware())

	return server
}

// newPublicServer serves what recipients' mail clients reach: the tracking
// endpoints plus health and metrics.
func newPublicServer(app *application) (*fiber.App, error) {
	server := newFiberApp(app, "mailtrack")

	handler.RegisterHealthRoutes(server, app.sqlDB, app.rdb)
	handler.RegisterMetricsRoute(server, app.metrics.Handler())

	if err := handler.RegisterTrackingRoutes(server, app.tracking, app.logger); err != nil {
		return nil, err
	}
	return server, nil
}

// newAdminServer serves the operator routes on their own listener.
func newAdminServer(app *application) (*fiber.App, error) {
	server := newFiberApp(app, "mailtrack-admin")

	server.Get("/livez", handler.LivezHandler())
	if err := handler.RegisterEmailRoutes(server, app.emails, app.scheduler); err != nil {
		return nil, err
	}
	return server, nil
}
