package metadata

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ardalabs/pyresolve/internal/cache"
	"github.com/ardalabs/pyresolve/internal/index"
)

const defaultPrefetchConcurrency = 10

// WarmFill speculatively populates store with the preferred artifact of
// every (name, version) pair under idxEnv, issuing up to concurrency
// parallel fetches (spec §5: "a configurable concurrency cap, default 10").
// Results never feed back into the resolver's decisions; a failure here is
// logged at debug level and otherwise swallowed.
func (s *Service) WarmFill(
	ctx context.Context, store cache.Store, dists []index.Distribution, idxEnv index.Environment, concurrency int,
) {
	if concurrency <= 0 {
		concurrency = defaultPrefetchConcurrency
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, d := range dists {
		artifact, err := index.SelectArtifact(d, idxEnv)
		if err != nil {
			continue
		}

		g.Go(func() error {
			key := cache.Key{Name: d.Name, Version: d.Version, Filename: artifact.Filename}

			if _, err := store.Get(ctx, artifact.URL, key); err != nil {
				s.logger.Debug("warm-fill fetch failed", "name", d.Name, "version", d.Version, "error", err)
			}

			return nil
		})
	}

	_ = g.Wait()
}
