package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/scheduler"
	"github.com/elderproject/elder-worker/pkg/utils/echoutil"
)

type StatusReporter interface {
	Status(ctx context.Context) (scheduler.Status, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

const readinessTimeout = 3 * time.Second

// NewServer builds the health server.
//
//	GET /healthz : liveness. It checks nothing.
//	GET /readyz  : 200 when the database answers a ping, 503 otherwise.
//	GET /status  : scheduler and connector states, as JSON.
//	GET /metrics : prometheus exposition.
func NewServer(status StatusReporter, db Pinger, m *metrics.Metrics, logger *zap.Logger, level zapcore.Level) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	echoutil.SetLevel(e, level)
	e.Use(middleware.Recover())
	e.Use(echoutil.LogHandlerFunc(logger, "/healthz", "/readyz", "/metrics"))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/readyz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logger.Warn("database is not reachable", zap.Error(err))
			return c.String(http.StatusServiceUnavailable, "database is not reachable")
		}
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/status", func(c echo.Context) error {
		st, err := status.Status(c.Request().Context())
		if err != nil {
			logger.Error("cannot read connector states", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "cannot read connector states")
		}
		return c.JSON(http.StatusOK, st)
	})

	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	return e
}
