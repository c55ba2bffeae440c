// Package echoutil holds echo middlewares shared by http servers of the worker.
package echoutil

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogHandlerFunc logs each request and its response to logger.
//
// Requests to paths in quiet are logged at debug level, for probes and scrapes.
func LogHandlerFunc(logger *zap.Logger, quiet ...string) echo.MiddlewareFunc {
	q := map[string]struct{}{}
	for _, p := range quiet {
		q[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			begin := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			fields := []zapcore.Field{
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
				zap.Int("status", res.Status),
				zap.Int64("size", res.Size),
				zap.Duration("latency", time.Since(begin)),
			}

			switch n := res.Status; {
			case n >= 500:
				logger.Error("server error", append(fields, zap.Error(err))...)
			case n >= 400:
				logger.Warn("client error", append(fields, zap.Error(err))...)
			default:
				if _, ok := q[c.Path()]; ok {
					logger.Debug("response", fields...)
				} else {
					logger.Info("response", fields...)
				}
			}
			return nil
		}
	}
}

// SetLevel aligns the echo logger with a zap level.
func SetLevel(e *echo.Echo, level zapcore.Level) {
	switch {
	case level <= zapcore.DebugLevel:
		e.Logger.SetLevel(log.DEBUG)
	case level == zapcore.InfoLevel:
		e.Logger.SetLevel(log.INFO)
	case level == zapcore.WarnLevel:
		e.Logger.SetLevel(log.WARN)
	default:
		e.Logger.SetLevel(log.ERROR)
	}
}
