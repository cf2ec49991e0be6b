// Package gin provides request scopes for the Gin web framework.
//
// Example usage:
//
//	requests := beans.NewContextScope()
//	f.RegisterScope("request", requests)
//	f.Provide("authController", NewAuthController, beans.WithScope("request"))
//
//	g := gin.New()
//	g.Use(beansgin.ScopeMiddleware(f, requests))
//
//	g.POST("/login", beansgin.Handle(f, (*AuthController).Login))
//	g.GET("/users/:id", beansgin.Handle(f, (*UserController).GetByID))
package gin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bzb8/beans"
)

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a middleware fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(*gin.Context, error)

	// CloseErrorHandler is called when destroying the request's beans fails.
	// If nil, errors are logged with the factory's logger.
	CloseErrorHandler func(error)

	// Middlewares run after the request scope is opened.
	Middlewares []func(*beans.Factory, *gin.Context) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(*gin.Context, error)) Option {
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
//
// Example:
//
//	beansgin.ScopeMiddleware(f, requests,
//	    beansgin.WithMiddleware(func(f *beans.Factory, c *gin.Context) error {
//	        reqCtx, err := beans.Resolve[*RequestContext](c.Request.Context(), f)
//	        if err != nil {
//	            return err
//	        }
//	        reqCtx.UserID = c.GetHeader("X-User")
//	        return nil
//	    }),
//	)
func WithMiddleware(mw func(*beans.Factory, *gin.Context) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig(logger *zap.Logger) *Config {
	return &Config{
		ErrorHandler: func(c *gin.Context, err error) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Internal Server Error",
			})
		},
		CloseErrorHandler: func(err error) {
			logger.Error("Failed to close request scope", zap.Error(err))
		},
	}
}

// ScopeMiddleware returns a gin.HandlerFunc opening a conversation of
// scope for every request. The conversation is ended when the handler
// chain returns.
func ScopeMiddleware(f *beans.Factory, scope *beans.ContextScope, opts ...Option) gin.HandlerFunc {
	cfg := defaultConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		ctx := scope.Begin(c.Request.Context())
		defer func() {
			if err := scope.End(ctx); err != nil {
				cfg.CloseErrorHandler(err)
			}
		}()

		c.Request = c.Request.WithContext(ctx)
		for _, mw := range cfg.Middlewares {
			if err := mw(f, c); err != nil {
				cfg.ErrorHandler(c, err)
				return
			}
		}

		c.Next()
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(*gin.Context, any)

	// ScopeErrorHandler is called when the controller lives in a scope
	// that is not active for the request.
	ScopeErrorHandler func(*gin.Context, error)

	// ResolutionErrorHandler is called when resolving the controller fails.
	ResolutionErrorHandler func(*gin.Context, error)
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics (requires WithPanicRecovery(true)).
func WithPanicHandler(h func(*gin.Context, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithScopeErrorHandler sets the error handler for inactive scopes.
func WithScopeErrorHandler(h func(*gin.Context, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ScopeErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(*gin.Context, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig(logger *zap.Logger) *HandlerConfig {
	internalError := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Internal Server Error",
		})
	}
	return &HandlerConfig{
		PanicHandler: func(c *gin.Context, r any) {
			logger.Error("Panic in handler", zap.Any("panic", r), zap.String("path", c.FullPath()))
			internalError(c)
		},
		ScopeErrorHandler: func(c *gin.Context, err error) {
			logger.Error("Request scope is not active", zap.Error(err))
			internalError(c)
		},
		ResolutionErrorHandler: func(c *gin.Context, err error) {
			logger.Error("Failed to resolve controller", zap.Error(err))
			internalError(c)
		},
	}
}

// Handle wraps a controller method. The controller of type T is resolved
// from f with the request context.
//
// Example:
//
//	g.GET("/users/:id", beansgin.Handle(f, (*UserController).GetByID))
func Handle[T any](f *beans.Factory, method func(T, *gin.Context), opts ...HandlerOption) gin.HandlerFunc {
	cfg := defaultHandlerConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		if cfg.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					cfg.PanicHandler(c, r)
				}
			}()
		}

		controller, err := beans.Resolve[T](c.Request.Context(), f)
		if err != nil {
			if errors.Is(err, beans.ErrScopeNotActive) {
				cfg.ScopeErrorHandler(c, err)
				return
			}
			cfg.ResolutionErrorHandler(c, err)
			return
		}

		method(controller, c)
	}
}
