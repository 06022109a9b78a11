// Package analyzer serves the caller-facing operations: extracting one
// surface, comparing two versions and finding migration resources.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/cache"
	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/compare"
	"github.com/emenda-labs/apidelta/core/driver"
	"github.com/emenda-labs/apidelta/core/extractor"
	"github.com/emenda-labs/apidelta/core/surface"
)

const (
	DefaultLookupTimeout   = 3 * time.Minute
	DefaultResourceTimeout = 20 * time.Second
)

var tracer = otel.Tracer("apidelta.analyzer")

// Analyzer coordinates a driver, the surface cache, the extractor and the
// comparator. It owns its cache; call Close when done.
type Analyzer struct {
	driver    driver.LanguageDriver
	finder    driver.ResourceFinder
	cache     *cache.SurfaceCache
	extractor *extractor.Extractor
	logger    *slog.Logger

	lookupTimeout   time.Duration
	resourceTimeout time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCache replaces the default in-memory cache. The analyzer takes
// ownership and closes it.
func WithCache(c *cache.SurfaceCache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithResourceFinder sets the collaborator used for migration resources.
func WithResourceFinder(f driver.ResourceFinder) Option {
	return func(a *Analyzer) { a.finder = f }
}

// WithLookupTimeout bounds each surface lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.lookupTimeout = d }
}

// WithResourceTimeout bounds resource discovery.
func WithResourceTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.resourceTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New creates an Analyzer for one ecosystem driver.
func New(d driver.LanguageDriver, opts ...Option) *Analyzer {
	a := &Analyzer{
		driver:          d,
		logger:          slog.Default(),
		lookupTimeout:   DefaultLookupTimeout,
		resourceTimeout: DefaultResourceTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = cache.New(cache.WithLogger(a.logger))
	}
	if a.lookupTimeout <= 0 {
		a.lookupTimeout = DefaultLookupTimeout
	}
	if a.resourceTimeout <= 0 {
		a.resourceTimeout = DefaultResourceTimeout
	}
	a.extractor = extractor.New(d,
		extractor.WithMemoizer(a.cache),
		extractor.WithLogger(a.logger),
	)
	return a
}

// CompareOptions controls CompareVersions.
type CompareOptions struct {
	// Degraded returns a partial comparison instead of an error when only
	// one of the two surfaces could be obtained.
	Degraded bool
}

// ExtractAPISurface returns the public surface of pkg@version.
func (a *Analyzer) ExtractAPISurface(ctx context.Context, pkg, version string) (*surface.APISurface, error) {
	ctx, span := tracer.Start(ctx, "analyzer.ExtractAPISurface",
		trace.WithAttributes(
			attribute.String("package", pkg),
			attribute.String("version", version),
			attribute.String("ecosystem", a.driver.Ecosystem()),
		),
	)
	defer span.End()

	s, err := a.lookup(ctx, pkg, version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("strategy", string(s.Strategy)),
		attribute.Int("elements", s.Len()),
		attribute.Bool("partial", s.Partial),
	)
	return s, nil
}

// lookup extracts one surface under its own timeout.
func (a *Analyzer) lookup(ctx context.Context, pkg, version string) (*surface.APISurface, error) {
	ctx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	start := time.Now()
	s, err := a.extractor.Extract(ctx, pkg, version)
	if err != nil {
		a.logger.Debug("surface lookup failed",
			slog.String("package", pkg),
			slog.String("version", version),
			slog.String("reason", string(apierr.ReasonOf(err))),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, err
	}
	a.logger.Debug("surface ready",
		slog.String("package", pkg),
		slog.String("version", version),
		slog.String("strategy", string(s.Strategy)),
		slog.Int("elements", s.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return s, nil
}

// CompareVersions extracts both surfaces concurrently and classifies every
// change between them. A failure of one lookup never cancels the other.
func (a *Analyzer) CompareVersions(ctx context.Context, pkg, oldVersion, newVersion string, opts CompareOptions) (*changespec.VersionComparison, error) {
	ctx, span := tracer.Start(ctx, "analyzer.CompareVersions",
		trace.WithAttributes(
			attribute.String("package", pkg),
			attribute.String("old_version", oldVersion),
			attribute.String("new_version", newVersion),
			attribute.Bool("degraded_allowed", opts.Degraded),
		),
	)
	defer span.End()

	var (
		wg               sync.WaitGroup
		oldSurf, newSurf *surface.APISurface
		oldErr, newErr   error
	)
	wg.Go(func() {
		oldSurf, oldErr = a.lookup(ctx, pkg, oldVersion)
	})
	wg.Go(func() {
		newSurf, newErr = a.lookup(ctx, pkg, newVersion)
	})
	wg.Wait()

	result, err := a.combine(pkg, oldVersion, newVersion, oldSurf, newSurf, oldErr, newErr, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("breaking", len(result.Breaking)),
		attribute.Int("additions", len(result.Additions)),
		attribute.Int("modifications", len(result.Modifications)),
		attribute.Int("deprecations", len(result.Deprecations)),
		attribute.Bool("partial", result.Partial),
		attribute.Bool("degraded", result.Degraded),
	)
	a.logger.Info("comparison complete",
		slog.String("package", pkg),
		slog.String("old_version", oldVersion),
		slog.String("new_version", newVersion),
		slog.Int("breaking", len(result.Breaking)),
		slog.Bool("partial", result.Partial),
	)
	return result, nil
}

func (a *Analyzer) combine(pkg, oldVersion, newVersion string, oldSurf, newSurf *surface.APISurface, oldErr, newErr error, opts CompareOptions) (*changespec.VersionComparison, error) {
	switch {
	case oldErr == nil && newErr == nil:
		return compare.Compare(oldSurf, newSurf), nil

	case oldErr != nil && newErr != nil:
		return nil, &apierr.ComparisonError{
			Package:       pkg,
			OldVersion:    oldVersion,
			NewVersion:    newVersion,
			Reason:        apierr.ReasonOf(oldErr),
			PartialReason: "both surfaces unavailable",
			Err:           errors.Join(oldErr, newErr),
		}
	}

	failedVersion, failedErr, available := oldVersion, oldErr, newSurf
	if newErr != nil {
		failedVersion, failedErr, available = newVersion, newErr, oldSurf
	}
	reason := apierr.ReasonOf(failedErr)
	partialReason := fmt.Sprintf("surface for %s@%s unavailable: %s", pkg, failedVersion, reason)

	if !opts.Degraded {
		return nil, &apierr.ComparisonError{
			Package:       pkg,
			OldVersion:    oldVersion,
			NewVersion:    newVersion,
			Reason:        reason,
			PartialReason: partialReason,
			Err:           failedErr,
		}
	}

	a.logger.Warn("returning degraded comparison",
		slog.String("package", pkg),
		slog.String("failed_version", failedVersion),
		slog.String("reason", string(reason)),
	)
	vc := &changespec.VersionComparison{
		PackageName:       pkg,
		OldVersion:        oldVersion,
		NewVersion:        newVersion,
		Breaking:          []changespec.APIChange{},
		Additions:         []changespec.APIChange{},
		Modifications:     []changespec.APIChange{},
		Deprecations:      []changespec.APIChange{},
		DependencyChanges: []changespec.DependencyChange{},
		Partial:           true,
		Degraded:          true,
		PartialReason:     partialReason,
	}
	if newErr != nil {
		vc.OldStrategy = available.Strategy
	} else {
		vc.NewStrategy = available.Strategy
	}
	return vc, nil
}

// FindMigrationResources delegates to the resource finder under the
// resource timeout. It is neither retried nor cached.
func (a *Analyzer) FindMigrationResources(ctx context.Context, pkg, oldVersion, newVersion string) (*changespec.MigrationResources, error) {
	ctx, span := tracer.Start(ctx, "analyzer.FindMigrationResources",
		trace.WithAttributes(
			attribute.String("package", pkg),
			attribute.String("old_version", oldVersion),
			attribute.String("new_version", newVersion),
		),
	)
	defer span.End()

	res, err := a.findResources(ctx, pkg, oldVersion, newVersion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func (a *Analyzer) findResources(ctx context.Context, pkg, oldVersion, newVersion string) (*changespec.MigrationResources, error) {
	if a.finder == nil {
		return nil, &apierr.ResourceDiscoveryError{
			Package: pkg,
			Reason:  apierr.ReasonInternal,
			Err:     errors.New("no resource finder configured"),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.resourceTimeout)
	defer cancel()

	type result struct {
		res *changespec.MigrationResources
		err error
	}
	// The finder may ignore ctx, so the timeout is enforced here.
	ch := make(chan result, 1)
	go func() {
		res, err := a.finder.FindMigrationResources(ctx, pkg, oldVersion, newVersion)
		ch <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &apierr.ResourceDiscoveryError{Package: pkg, Reason: apierr.ReasonOf(ctx.Err()), Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return nil, &apierr.ResourceDiscoveryError{Package: pkg, Reason: apierr.ReasonOf(r.err), Err: r.err}
		}
		if r.res == nil {
			r.res = &changespec.MigrationResources{PackageName: pkg, VersionRange: oldVersion + " -> " + newVersion}
		}
		return r.res, nil
	}
}

// CacheStats reports the analyzer's cache counters.
func (a *Analyzer) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// Invalidate drops any cached surface of pkg@version.
func (a *Analyzer) Invalidate(pkg, version string) {
	a.cache.Invalidate(pkg, version)
}

// Close releases the cache.
func (a *Analyzer) Close() error {
	if err := a.cache.Close(); err != nil {
		return fmt.Errorf("closing surface cache: %w", err)
	}
	return nil
}
