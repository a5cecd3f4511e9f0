package cli

import (
	"context"

	"github.com/harrisonrobin/sprintplanner/pkg/azure"
	"github.com/harrisonrobin/sprintplanner/pkg/cache"
	"go.uber.org/zap"
)

// cachedRemote serves the project's activity types and area paths from the disk
// cache and fetches everything else from Azure DevOps.
type cachedRemote struct {
	*azure.Client
	cache   *cache.Cache
	prefix  string
	refresh bool
	log     *zap.Logger
}

func (r *cachedRemote) ActivityTypes(ctx context.Context) ([]string, error) {
	return r.lookup(ctx, "activities", r.Client.ActivityTypes)
}

func (r *cachedRemote) ProjectAreas(ctx context.Context) ([]string, error) {
	return r.lookup(ctx, "areas", r.Client.ProjectAreas)
}

func (r *cachedRemote) lookup(ctx context.Context, name string, fetch func(context.Context) ([]string, error)) ([]string, error) {
	if r.cache == nil {
		return fetch(ctx)
	}
	key := r.prefix + "/" + name
	if !r.refresh {
		if values, ok := r.cache.Get(key); ok {
			r.log.Debug("served from disk cache", zap.String("key", key))
			return values, nil
		}
	}

	values, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, values)
	if err := r.cache.Save(); err != nil {
		r.log.Warn("failed to save remote cache", zap.Error(err))
	}
	return values, nil
}
