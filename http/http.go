// Package http provides request scopes for net/http servers.
//
// ScopeMiddleware opens a conversation of a beans.ContextScope for every
// request and ends it when the request completes, so beans registered in
// that scope live exactly as long as the request. Routers accepting
// standard middleware, such as chi, use it directly.
//
// Example usage:
//
//	requests := beans.NewContextScope()
//	f.RegisterScope("request", requests)
//	f.Provide("userController", NewUserController, beans.WithScope("request"))
//
//	mux := http.NewServeMux()
//	mux.Handle("GET /users/{id}", beanshttp.Handle(f, (*UserController).GetByID))
//	http.ListenAndServe(":8080", beanshttp.ScopeMiddleware(f, requests)(mux))
package http

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bzb8/beans"
)

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a middleware fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	// CloseErrorHandler is called when destroying the request's beans fails.
	// If nil, errors are logged with the factory's logger.
	CloseErrorHandler func(error)

	// Middlewares run after the request scope is opened. The request
	// context carries the scope.
	Middlewares []func(*beans.Factory, *http.Request) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(http.ResponseWriter, *http.Request, error)) Option {
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
func WithMiddleware(mw func(*beans.Factory, *http.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig(logger *zap.Logger) *Config {
	return &Config{
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		CloseErrorHandler: func(err error) {
			logger.Error("Failed to close request scope", zap.Error(err))
		},
	}
}

// ScopeMiddleware returns middleware opening a conversation of scope for
// every request. The conversation is ended, destroying its beans, when the
// request completes.
func ScopeMiddleware(f *beans.Factory, scope *beans.ContextScope, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := scope.Begin(r.Context())
			defer func() {
				if err := scope.End(ctx); err != nil {
					cfg.CloseErrorHandler(err)
				}
			}()

			r = r.WithContext(ctx)
			for _, mw := range cfg.Middlewares {
				if err := mw(f, r); err != nil {
					cfg.ErrorHandler(w, r, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(http.ResponseWriter, *http.Request, any)

	// ScopeErrorHandler is called when the controller lives in a scope
	// that is not active for the request.
	ScopeErrorHandler func(http.ResponseWriter, *http.Request, error)

	// ResolutionErrorHandler is called when resolving the controller fails.
	ResolutionErrorHandler func(http.ResponseWriter, *http.Request, error)
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
func WithPanicHandler(h func(http.ResponseWriter, *http.Request, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithScopeErrorHandler sets the error handler for inactive scopes.
func WithScopeErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ScopeErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for resolution failures.
func WithResolutionErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig(logger *zap.Logger) *HandlerConfig {
	return &HandlerConfig{
		PanicHandler: func(w http.ResponseWriter, r *http.Request, v any) {
			logger.Error("Panic in handler", zap.Any("panic", v), zap.String("path", r.URL.Path))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		ScopeErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Request scope is not active", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		ResolutionErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Failed to resolve controller", zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
	}
}

// Handle wraps a controller method. The controller of type T is resolved
// from f with the request context, so request scoped controllers come from
// the request's scope.
//
// Example:
//
//	mux.Handle("GET /users/{id}", beanshttp.Handle(f, (*UserController).GetByID))
func Handle[T any](f *beans.Factory, method func(T, http.ResponseWriter, *http.Request), opts ...HandlerOption) http.HandlerFunc {
	cfg := defaultHandlerConfig(f.Logger())
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.PanicHandler(w, r, v)
				}
			}()
		}

		controller, err := beans.Resolve[T](r.Context(), f)
		if err != nil {
			if errors.Is(err, beans.ErrScopeNotActive) {
				cfg.ScopeErrorHandler(w, r, err)
				return
			}
			cfg.ResolutionErrorHandler(w, r, err)
			return
		}

		method(controller, w, r)
	}
}
