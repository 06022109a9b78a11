// Package extractor turns one package version into an APISurface, trying
// live inspection first and static parsing second.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/cache"
	"github.com/emenda-labs/apidelta/core/driver"
	"github.com/emenda-labs/apidelta/core/surface"
)

// Memoizer interposes a cache around each strategy's computation.
// *cache.SurfaceCache satisfies it.
type Memoizer interface {
	GetOrCompute(ctx context.Context, key cache.Key, token string, compute cache.ComputeFunc) (*surface.APISurface, error)
}

// passthrough computes every time.
type passthrough struct{}

func (passthrough) GetOrCompute(ctx context.Context, _ cache.Key, _ string, compute cache.ComputeFunc) (*surface.APISurface, error) {
	return compute(ctx)
}

// Extractor runs the live -> static fallback for one driver.
type Extractor struct {
	driver driver.LanguageDriver
	memo   Memoizer
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMemoizer caches each strategy's result.
func WithMemoizer(m Memoizer) Option {
	return func(e *Extractor) { e.memo = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor for d.
func New(d driver.LanguageDriver, opts ...Option) *Extractor {
	e := &Extractor{
		driver: d,
		memo:   passthrough{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the surface of pkg@version. It fails with
// *apierr.ExtractionError only when the artifact cannot be resolved or both
// strategies fail; recoverable problems show up as a partial surface.
func (e *Extractor) Extract(ctx context.Context, pkg, version string) (*surface.APISurface, error) {
	a, err := e.driver.ResolveArtifact(ctx, pkg, version)
	if err != nil {
		return nil, &apierr.ExtractionError{
			Package: pkg,
			Version: version,
			Reason:  apierr.ReasonOf(err),
			Err:     fmt.Errorf("resolving artifact: %w", err),
		}
	}

	var liveErr error
	if a.Loadable {
		s, err := e.live(ctx, a)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, e.failure(a, apierr.ReasonOf(ctx.Err()), err, ctx.Err())
		}
		liveErr = err
		if !errors.Is(err, driver.ErrLiveUnavailable) {
			e.logger.Warn("live extraction failed, falling back to static",
				slog.String("package", pkg),
				slog.String("version", version),
				slog.String("error", err.Error()),
			)
		}
	}

	s, err := e.static(ctx, a)
	if err != nil {
		return nil, e.failure(a, apierr.ReasonOf(err), liveErr, err)
	}
	if s.Partial {
		e.logger.Debug("surface is partial",
			slog.String("package", pkg),
			slog.String("version", version),
			slog.Any("reasons", s.PartialReasons),
		)
	}
	return s, nil
}

func (e *Extractor) live(ctx context.Context, a driver.Artifact) (*surface.APISurface, error) {
	key := cache.Key{Package: a.Package, Version: a.Version, Strategy: surface.StrategyLive}
	return e.memo.GetOrCompute(ctx, key, a.FreshnessToken, func(ctx context.Context) (*surface.APISurface, error) {
		s, err := e.driver.InspectLive(ctx, a)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, driver.ErrLiveUnavailable
		}
		return s, nil
	})
}

func (e *Extractor) static(ctx context.Context, a driver.Artifact) (*surface.APISurface, error) {
	key := cache.Key{Package: a.Package, Version: a.Version, Strategy: surface.StrategyStatic}
	return e.memo.GetOrCompute(ctx, key, a.FreshnessToken, func(ctx context.Context) (*surface.APISurface, error) {
		src, err := e.driver.FetchSource(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("fetching source for %s@%s: %w", a.Package, a.Version, err)
		}
		defer src.Close()

		s, err := e.driver.ParseSource(ctx, a, src)
		if err != nil {
			return nil, fmt.Errorf("parsing source for %s@%s: %w", a.Package, a.Version, err)
		}
		return s, nil
	})
}

func (e *Extractor) failure(a driver.Artifact, reason apierr.Reason, liveErr, err error) *apierr.ExtractionError {
	return &apierr.ExtractionError{
		Package: a.Package,
		Version: a.Version,
		Reason:  reason,
		Live:    liveErr,
		Err:     err,
	}
}
