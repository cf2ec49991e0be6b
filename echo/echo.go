// Package echo provides request scopes for the Echo web framework.
//
// Example usage:
//
//	requests := beans.NewContextScope()
//	f.RegisterScope("request", requests)
//
//	e := echo.New()
//	e.Use(beansecho.ScopeMiddleware(f, requests))
//
//	e.POST("/login", beansecho.Handle(f, (*AuthController).Login))
//	e.GET("/users/:id", beansecho.Handle(f, (*UserController).GetByID))
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bzb8/beans"
)

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a middleware fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(echo.Context, error) error

	// CloseErrorHandler is called when destroying the request's beans fails.
	// If nil, errors are logged with the factory's logger.
	CloseErrorHandler func(error)

	// Middlewares run after the request scope is opened.
	Middlewares []func(*beans.Factory, echo.Context) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(echo.Context, error) error) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithCloseErrorHandler sets the error handler for scope close failures.
func WithCloseErrorHandler(h func(error)) Option {
	return func(c *Config) {
		c.CloseErrorHandler = h
	}
}

// WithMiddleware adds a function that runs after the scope is opened.
func WithMiddleware(mw func(*beans.Factory, echo.Context) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig(logger *zap.Logger) *Config {
	return &Config{
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
		CloseErrorHandler: func(err error) {
			logger.Error("Failed to close request scope", zap.Error(err))
		},
	}
}

// ScopeMiddleware returns an Echo middleware opening a conversation of
// scope for every request. The conversation is ended when the next
// handler returns.
func ScopeMiddleware(f *beans.Factory, scope *beans.ContextScope, opts ...Option) echo.MiddlewareFunc {
	cfg := defaultConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := scope.Begin(c.Request().Context())
			defer func() {
				if err := scope.End(ctx); err != nil {
					cfg.CloseErrorHandler(err)
				}
			}()

			c.SetRequest(c.Request().WithContext(ctx))
			for _, mw := range cfg.Middlewares {
				if err := mw(f, c); err != nil {
					return cfg.ErrorHandler(c, err)
				}
			}

			return next(c)
		}
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(echo.Context, any) error

	// ScopeErrorHandler is called when the controller lives in a scope
	// that is not active for the request.
	ScopeErrorHandler func(echo.Context, error) error

	// ResolutionErrorHandler is called when resolving the controller fails.
	ResolutionErrorHandler func(echo.Context, error) error
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics.
func WithPanicHandler(h func(echo.Context, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithScopeErrorHandler sets the error handler for inactive scopes.
func WithScopeErrorHandler(h func(echo.Context, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ScopeErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(echo.Context, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig(logger *zap.Logger) *HandlerConfig {
	return &HandlerConfig{
		PanicHandler: func(c echo.Context, v any) error {
			logger.Error("Panic in handler", zap.Any("panic", v), zap.String("path", c.Path()))
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
		ScopeErrorHandler: func(c echo.Context, err error) error {
			logger.Error("Request scope is not active", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
		ResolutionErrorHandler: func(c echo.Context, err error) error {
			logger.Error("Failed to resolve controller", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
	}
}

// Handle wraps a controller method. The controller of type T is resolved
// from f with the request context.
//
// Example:
//
//	e.GET("/users/:id", beansecho.Handle(f, (*UserController).GetByID))
func Handle[T any](f *beans.Factory, method func(T, echo.Context) error, opts ...HandlerOption) echo.HandlerFunc {
	cfg := defaultHandlerConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c echo.Context) (err error) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					err = cfg.PanicHandler(c, v)
				}
			}()
		}

		controller, resolveErr := beans.Resolve[T](c.Request().Context(), f)
		if resolveErr != nil {
			if errors.Is(resolveErr, beans.ErrScopeNotActive) {
				return cfg.ScopeErrorHandler(c, resolveErr)
			}
			return cfg.ResolutionErrorHandler(c, resolveErr)
		}

		return method(controller, c)
	}
}
