package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// BackendKind selects which backend the router makes active
type BackendKind string

const (
	BackendCoordinator BackendKind = "coordinator"
	BackendRedis       BackendKind = "redis"
)

// Router presents one uniform store contract over the configured backend.
// The backend is resolved exactly once at construction; every call then
// routes identically. Get/put/delete failures surface to the caller, since
// data would diverge if they silently fell back to the other tier. List is the
// sole operation permitted to transparently fall back, because the
// coordinator does not support it and listing reads no canonical state.
type Router struct {
	active       types.Backend
	listFallback types.Backend
	logger       *zap.Logger
}

// NewRouter resolves the active backend. listFallback may be nil when the
// active backend supports List itself.
func NewRouter(active types.Backend, listFallback types.Backend, logger *zap.Logger) (*Router, error) {
	if active == nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "router requires an active backend").
			WithComponent("store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if !active.Capabilities().List && listFallback == nil {
		logger.Warn("active backend lacks list support and no fallback is configured",
			zap.String("backend", active.Name()))
	}

	return &Router{
		active:       active,
		listFallback: listFallback,
		logger:       logger,
	}, nil
}

// Name reports the active backend name
func (r *Router) Name() string {
	return r.active.Name()
}

// Capabilities merges the active backend's capabilities with the list fallback
func (r *Router) Capabilities() types.Capabilities {
	caps := r.active.Capabilities()
	if !caps.List && r.listFallback != nil && r.listFallback.Capabilities().List {
		caps.List = true
	}
	return caps
}

// Get routes to the active backend; a failure is the caller's to handle
func (r *Router) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.active.Get(ctx, key)
	if err != nil {
		r.logger.Warn("backend get failed",
			zap.String("backend", r.active.Name()),
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}
	return data, nil
}

// Put routes to the active backend
func (r *Router) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.active.Put(ctx, key, data, ttl); err != nil {
		r.logger.Warn("backend put failed",
			zap.String("backend", r.active.Name()),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	return nil
}

// Delete routes to the active backend
func (r *Router) Delete(ctx context.Context, key string) error {
	if err := r.active.Delete(ctx, key); err != nil {
		r.logger.Warn("backend delete failed",
			zap.String("backend", r.active.Name()),
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	return nil
}

// List prefers the active backend and falls back to the secondary store when
// the active tier lacks the capability.
func (r *Router) List(ctx context.Context, prefix, cursor string) (types.ListResult, error) {
	if r.active.Capabilities().List {
		return r.active.List(ctx, prefix, cursor)
	}
	if r.listFallback != nil && r.listFallback.Capabilities().List {
		r.logger.Debug("list falling back to secondary store",
			zap.String("active", r.active.Name()),
			zap.String("fallback", r.listFallback.Name()))
		return r.listFallback.List(ctx, prefix, cursor)
	}
	return types.ListResult{}, errors.NewCapabilityGap(r.active.Name(), "list")
}

// Clear routes to the active backend; a capability gap is reported, never
// silently ignored.
func (r *Router) Clear(ctx context.Context) error {
	if !r.active.Capabilities().Clear {
		return errors.NewCapabilityGap(r.active.Name(), "clear")
	}
	return r.active.Clear(ctx)
}

// Health reports the active backend's health
func (r *Router) Health(ctx context.Context) (types.HealthStatus, error) {
	return r.active.Health(ctx)
}
