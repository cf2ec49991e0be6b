package beans

import "go.uber.org/zap"

// ModuleOption is a registration action within a module.
type ModuleOption func(*Factory) error

// NewModule groups related registrations. Modules nest, and installing one
// runs its options in order, stopping at the first failure.
//
// Example:
//
//	var DatabaseModule = beans.NewModule("database",
//	    beans.AddBean("connection", NewConnection, beans.WithDestroyMethod("Close")),
//	    beans.AddBean("userRepository", NewUserRepository),
//	)
//
//	var AppModule = beans.NewModule("app",
//	    DatabaseModule,
//	    beans.AddBean("userService", NewUserService, beans.AsPrimary()),
//	)
//
//	err := f.Install(AppModule)
func NewModule(name string, options ...ModuleOption) ModuleOption {
	return func(f *Factory) error {
		for _, option := range options {
			if option == nil {
				continue
			}
			if err := option(f); err != nil {
				return ModuleError{Module: name, Cause: err}
			}
		}
		f.logger.Debug("Installed module", zap.String("module", name))
		return nil
	}
}

// Install runs modules against f in order.
func (f *Factory) Install(modules ...ModuleOption) error {
	for _, m := range modules {
		if m == nil {
			continue
		}
		if err := m(f); err != nil {
			return err
		}
	}
	return nil
}

// AddBean registers constructor under name, like Factory.Provide.
func AddBean(name string, constructor any, opts ...DefinitionOption) ModuleOption {
	return func(f *Factory) error {
		return f.Provide(name, constructor, opts...)
	}
}

// AddDefinition registers def under name.
func AddDefinition(name string, def *BeanDefinition) ModuleOption {
	return func(f *Factory) error {
		return f.RegisterBeanDefinition(name, def)
	}
}

// AddSingleton registers an existing object under name.
func AddSingleton(name string, obj any) ModuleOption {
	return func(f *Factory) error {
		return f.RegisterSingleton(name, obj)
	}
}

// AddAlias registers alias for name.
func AddAlias(name, alias string) ModuleOption {
	return func(f *Factory) error {
		return f.RegisterAlias(name, alias)
	}
}

// AddScope registers a custom scope.
func AddScope(name string, scope Scope) ModuleOption {
	return func(f *Factory) error {
		return f.RegisterScope(name, scope)
	}
}

// AddPostProcessor adds a post processor instance.
func AddPostProcessor(p PostProcessor) ModuleOption {
	return func(f *Factory) error {
		return f.AddPostProcessor(p)
	}
}
