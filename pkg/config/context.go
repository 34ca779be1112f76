package config

import "context"

type ContextKey string

const (
	ConfigCtxKey  ContextKey = "config"
	ServiceCtxKey ContextKey = "config_service"
)

func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ConfigCtxKey, cfg)
}

// FromContext returns the configuration attached to ctx, or nil.
func FromContext(ctx context.Context) *Config {
	if ctx == nil {
		return nil
	}
	if cfg, ok := ctx.Value(ConfigCtxKey).(*Config); ok {
		return cfg
	}
	return nil
}

// ContextWithService attaches the service that loaded the configuration so
// commands can report where each value came from.
func ContextWithService(ctx context.Context, svc Service) context.Context {
	return context.WithValue(ctx, ServiceCtxKey, svc)
}

// ServiceFromContext returns the attached service, or nil.
func ServiceFromContext(ctx context.Context) Service {
	if ctx == nil {
		return nil
	}
	if svc, ok := ctx.Value(ServiceCtxKey).(Service); ok {
		return svc
	}
	return nil
}
