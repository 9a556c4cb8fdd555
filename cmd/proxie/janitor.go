package main

import (
	"context"
	"time"

	"proxie/pkg/logx"
)

const purgeInterval = 15 * time.Minute

// purger deletes expired rows and reports how many went.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// purgers returns the stores of a that keep expired rows on disk.
func (a *app) purgers() map[string]purger {
	out := map[string]purger{}
	if p, ok := a.sessions.(purger); ok {
		out["sessions"] = p
	}
	if p, ok := a.cache.(purger); ok && a.cfg.LLM.CacheEnabled {
		out["llm_cache"] = p
	}
	return out
}

// purgeOnce runs every purger and returns the total removed.
func purgeOnce(ctx context.Context, logger *logx.Logger, targets map[string]purger) int64 {
	var total int64
	for name, p := range targets {
		n, err := p.Purge(ctx)
		if err != nil {
			logger.Warn("purge %s failed: %v", name, err)
			continue
		}
		if n > 0 {
			logger.Info("🧹 purged %d expired %s rows", n, name)
		}
		total += n
	}
	return total
}

// runJanitor purges expired rows every interval until ctx is done.
func runJanitor(ctx context.Context, logger *logx.Logger, interval time.Duration, targets map[string]purger) {
	if len(targets) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	purgeOnce(ctx, logger, targets)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, logger, targets)
		}
	}
}
