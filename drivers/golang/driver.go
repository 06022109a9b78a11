// Package golang implements the language driver for Go modules. Module
// zips are fetched from the module proxy and parsed with go/ast; Go code
// is never loaded, so live inspection is unavailable.
package golang

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/driver"
	"github.com/emenda-labs/apidelta/core/surface"
	"github.com/emenda-labs/apidelta/drivers/golang/exports"
	"github.com/emenda-labs/apidelta/pkg/archive"
	"github.com/emenda-labs/apidelta/pkg/gomod"
	"github.com/emenda-labs/apidelta/pkg/goproxy"
)

const ecosystem = "golang"

var _ driver.LanguageDriver = (*Driver)(nil)

// Proxy downloads module files. *goproxy.Client satisfies it.
type Proxy interface {
	DownloadZip(ctx context.Context, mod, version string) ([]byte, error)
	DownloadMod(ctx context.Context, mod, version string) ([]byte, error)
}

// Driver implements driver.LanguageDriver for Go modules.
type Driver struct {
	proxyClient Proxy
	logger      *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithProxy replaces the module proxy client.
func WithProxy(p Proxy) Option {
	return func(d *Driver) { d.proxyClient = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a Driver with a default goproxy.Client.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	if d.proxyClient == nil {
		d.proxyClient = goproxy.NewClient(goproxy.WithLogger(d.logger))
	}
	return d
}

func (d *Driver) Ecosystem() string { return ecosystem }

// ResolveArtifact validates the module path and version. Published module
// versions are immutable, so the version itself is the freshness token.
func (d *Driver) ResolveArtifact(ctx context.Context, mod, version string) (driver.Artifact, error) {
	if err := module.CheckPath(mod); err != nil {
		return driver.Artifact{}, &apierr.NotFoundError{Package: mod, Version: version, Err: err}
	}
	if !semver.IsValid(version) {
		return driver.Artifact{}, &apierr.NotFoundError{
			Package: mod,
			Version: version,
			Err:     fmt.Errorf("%q is not a semantic version", version),
		}
	}
	return driver.Artifact{
		Package:        mod,
		Version:        version,
		FreshnessToken: ecosystem + ":" + version,
	}, nil
}

// FetchSource downloads the module zip from the proxy and extracts it to a
// temp directory. The source root is the module directory inside the zip.
func (d *Driver) FetchSource(ctx context.Context, a driver.Artifact) (driver.Source, error) {
	data, err := d.proxyClient.DownloadZip(ctx, a.Package, a.Version)
	if err != nil {
		return driver.Source{}, proxyError(a, "downloading zip", err)
	}

	dir, cleanup, err := archive.ExtractZip(data, a.Version)
	if err != nil {
		return driver.Source{}, &apierr.Unparseable{Err: fmt.Errorf("extracting zip for %s@%s: %w", a.Package, a.Version, err)}
	}

	root := filepath.Join(dir, filepath.FromSlash(a.Package+"@"+a.Version))
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		root = dir
	}

	// Modules that predate go.mod ship without one; the proxy serves a
	// synthesized file for them.
	if root != dir {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); os.IsNotExist(err) {
			mod, err := d.proxyClient.DownloadMod(ctx, a.Package, a.Version)
			if err != nil {
				cleanup()
				return driver.Source{}, proxyError(a, "downloading go.mod", err)
			}
			if err := os.WriteFile(filepath.Join(root, "go.mod"), mod, 0o644); err != nil {
				cleanup()
				return driver.Source{}, fmt.Errorf("writing go.mod for %s@%s: %w", a.Package, a.Version, err)
			}
		}
	}

	return driver.Source{Root: root, Cleanup: cleanup}, nil
}

func proxyError(a driver.Artifact, op string, err error) error {
	switch {
	case errors.Is(err, goproxy.ErrNotFound):
		return &apierr.NotFoundError{Package: a.Package, Version: a.Version, Err: err}
	case errors.Is(err, goproxy.ErrProxyDown):
		return &apierr.Unreachable{Err: err}
	}
	return fmt.Errorf("%s for %s@%s: %w", op, a.Package, a.Version, err)
}

// InspectLive is not supported for Go modules.
func (d *Driver) InspectLive(ctx context.Context, a driver.Artifact) (*surface.APISurface, error) {
	return nil, driver.ErrLiveUnavailable
}

// ParseSource collects exported identifiers of every non-internal package
// in the module. Parameter and result types are part of a Go API, so the
// surface is marked as typed.
func (d *Driver) ParseSource(ctx context.Context, a driver.Artifact, src driver.Source) (*surface.APISurface, error) {
	root, err := exports.FindSourceRoot(src.Root)
	if err != nil {
		return nil, &apierr.Unparseable{Err: err}
	}

	mod, err := gomod.ReadModule(root)
	if err != nil {
		return nil, &apierr.Unparseable{Err: fmt.Errorf("reading module path from %s: %w", a.Version, err)}
	}
	if mod.Path != a.Package {
		return nil, &apierr.Unparseable{Err: fmt.Errorf("module mismatch: requested %s, zip declares %s", a.Package, mod.Path)}
	}

	res, err := exports.ParseExports(ctx, root, mod.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &apierr.Unparseable{Err: fmt.Errorf("parsing exports from %s: %w", a.Version, err)}
	}

	if len(res.Packages) == 0 && len(res.Skipped) > 0 {
		return nil, &apierr.Unparseable{Err: fmt.Errorf("none of %d source files could be parsed", len(res.Skipped))}
	}

	b := surface.NewBuilder(a.Package, a.Version, surface.StrategyStatic)
	b.SetTypedSignatures()
	for _, skipped := range res.Skipped {
		b.MarkPartial(skipped)
	}
	for _, p := range res.Packages {
		b.AddModule(p)
	}
	for _, e := range res.Elements {
		if err := b.Add(e); err != nil {
			b.MarkPartial(err.Error())
		}
	}

	var reqs []surface.Requirement
	for _, r := range mod.Requires {
		if r.Indirect {
			continue
		}
		reqs = append(reqs, surface.Requirement{Name: r.Path, Constraint: ">=" + r.Version})
	}
	b.SetRequirements(reqs)

	d.logger.Debug("parsed module",
		slog.String("module", a.Package),
		slog.String("version", a.Version),
		slog.Int("packages", len(res.Packages)),
		slog.Int("elements", len(res.Elements)),
	)
	return b.Build(), nil
}
