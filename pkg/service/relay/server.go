package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxRequestBodyBytes bounds the JSON body of a generation request
const MaxRequestBodyBytes = 64 * 1024

// NewServer builds the HTTP router for the relay
func NewServer(r *Relay, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(strconv.Itoa(MaxRequestBodyBytes/1024) + "K"))
	e.Use(withLogger(logger))

	e.POST(GeneratePath, r.HandleGenerate)
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// withLogger puts a request scoped logger into the request context
func withLogger(base *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			logger := base.With(
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", req.URL.Path,
			)
			c.SetRequest(req.WithContext(logging.With(req.Context(), logger)))
			return next(c)
		}
	}
}

// Serve runs e on addr until ctx is done, then shuts down gracefully
func Serve(ctx context.Context, e *echo.Echo, addr string) error {
	logger := logging.From(ctx)
	errCh := make(chan error, 1)

	go func() {
		logger.Info("relay listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "relay server failed", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down relay")
	if err := e.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down relay server")
	}
	return nil
}
