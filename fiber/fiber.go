// Package fiber provides request scopes for the Fiber web framework.
//
// Fiber does not carry a context.Context on its requests, so the request
// scope travels in the user context of the fiber.Ctx.
//
// Example usage:
//
//	requests := beans.NewContextScope()
//	f.RegisterScope("request", requests)
//
//	app := fiber.New()
//	app.Use(beansfiber.ScopeMiddleware(f, requests))
//
//	app.Post("/login", beansfiber.Handle(f, (*AuthController).Login))
//	app.Get("/users/:id", beansfiber.Handle(f, (*UserController).GetByID))
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bzb8/beans"
)

// conversationKey is the fiber.Ctx.Locals key holding the id of the
// request's conversation.
const conversationKey = "beans_conversation"

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a middleware fails.
	ErrorHandler func(*fiber.Ctx, error) error

	// CloseErrorHandler is called when destroying the request's beans fails.
	// If nil, errors are logged with the factory's logger.
	CloseErrorHandler func(error)

	// Middlewares run after the request scope is opened.
	Middlewares []func(*beans.Factory, *fiber.Ctx) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(*fiber.Ctx, error) error) Option {
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
// Middlewares run in the order they are added.
func WithMiddleware(mw func(*beans.Factory, *fiber.Ctx) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal Server Error",
	})
}

func defaultConfig(logger *zap.Logger) *Config {
	return &Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return internalError(c)
		},
		CloseErrorHandler: func(err error) {
			logger.Error("Failed to close request scope", zap.Error(err))
		},
	}
}

// ScopeMiddleware returns a Fiber handler opening a conversation of scope
// for every request. The conversation is ended after the rest of the
// handler chain ran.
func ScopeMiddleware(f *beans.Factory, scope *beans.ContextScope, opts ...Option) fiber.Handler {
	cfg := defaultConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *fiber.Ctx) error {
		ctx := scope.Begin(c.UserContext())
		defer func() {
			if err := scope.End(ctx); err != nil {
				cfg.CloseErrorHandler(err)
			}
		}()

		c.SetUserContext(ctx)
		c.Locals(conversationKey, scope.ConversationID(ctx))

		for _, mw := range cfg.Middlewares {
			if err := mw(f, c); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		return c.Next()
	}
}

// ConversationID returns the id of the request scope opened for c, or ""
// outside of ScopeMiddleware.
func ConversationID(c *fiber.Ctx) string {
	id, _ := c.Locals(conversationKey).(string)
	return id
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(*fiber.Ctx, any) error

	// ScopeErrorHandler is called when the controller lives in a scope
	// that is not active for the request.
	ScopeErrorHandler func(*fiber.Ctx, error) error

	// ResolutionErrorHandler is called when resolving the controller fails.
	ResolutionErrorHandler func(*fiber.Ctx, error) error
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
func WithPanicHandler(h func(*fiber.Ctx, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithScopeErrorHandler sets the error handler for inactive scopes.
func WithScopeErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ScopeErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig(logger *zap.Logger) *HandlerConfig {
	return &HandlerConfig{
		PanicHandler: func(c *fiber.Ctx, v any) error {
			logger.Error("Panic in handler", zap.Any("panic", v), zap.String("path", c.Path()))
			return internalError(c)
		},
		ScopeErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("Request scope is not active", zap.Error(err))
			return internalError(c)
		},
		ResolutionErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("Failed to resolve controller", zap.Error(err))
			return internalError(c)
		},
	}
}

// Handle wraps a controller method. The controller of type T is resolved
// from f with the user context of the request.
//
// Example:
//
//	app.Get("/users/:id", beansfiber.Handle(f, (*UserController).GetByID))
func Handle[T any](f *beans.Factory, method func(T, *fiber.Ctx) error, opts ...HandlerOption) fiber.Handler {
	cfg := defaultHandlerConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *fiber.Ctx) (err error) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					err = cfg.PanicHandler(c, v)
				}
			}()
		}

		controller, resolveErr := beans.Resolve[T](c.UserContext(), f)
		if resolveErr != nil {
			if errors.Is(resolveErr, beans.ErrScopeNotActive) {
				return cfg.ScopeErrorHandler(c, resolveErr)
			}
			return cfg.ResolutionErrorHandler(c, resolveErr)
		}

		return method(controller, c)
	}
}
