package cron

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/engine"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

const WarmJobName = "cache-warm"

// Warmer is an engine whose cache can be kept warm.
type Warmer interface {
	Name() string
	Load(ctx context.Context, force bool) engine.LoadResult
}

// WarmJob loads every warmer without forcing, so a fresh cache costs
// nothing and a stale one is refetched before a user asks for it. A
// superseded load is not a failure.
func WarmJob(logger types.Logger, warmers ...Warmer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs error
		for _, w := range warmers {
			res := w.Load(ctx, false)
			if res.Err != nil && !res.Superseded && !types.IsCanceled(res.Err) {
				errs = multierr.Append(errs, types.WrapError(res.Err, w.Name()))
				continue
			}
			logger.Debug("Cache warmed",
				zap.String("engine", w.Name()),
				zap.String("source", string(res.Source)))
		}
		return errs
	}
}
