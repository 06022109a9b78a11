package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/git-pkgs/registries/fetch"
	"golang.org/x/mod/semver"

	"github.com/emenda-labs/apidelta/core/analyzer"
	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/cache"
	"github.com/emenda-labs/apidelta/core/cli"
	"github.com/emenda-labs/apidelta/core/config"
	"github.com/emenda-labs/apidelta/core/driver"
	golangdriver "github.com/emenda-labs/apidelta/drivers/golang"
	pythondriver "github.com/emenda-labs/apidelta/drivers/python"
	"github.com/emenda-labs/apidelta/pkg/gomod"
	"github.com/emenda-labs/apidelta/pkg/goproxy"
	"github.com/emenda-labs/apidelta/pkg/pypi"
	"github.com/emenda-labs/apidelta/pkg/resources"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var global cli.GlobalOptions
	a := &app{global: &global}

	runExtract := func(ctx context.Context, opts cli.ExtractOptions) error {
		an, err := a.open()
		if err != nil {
			return err
		}
		defer a.close()

		s, err := an.ExtractAPISurface(ctx, opts.Package, opts.Version)
		if err != nil {
			return err
		}
		return a.write(s, func() error { return cli.WriteSurface(os.Stdout, s) })
	}

	runCompare := func(ctx context.Context, opts cli.CompareOptions) error {
		if opts.FromRepo != "" {
			if global.Ecosystem == "" {
				global.Ecosystem = config.EcosystemGolang
			}
			currentVersion, err := gomod.FindModuleVersion(opts.FromRepo, opts.Package)
			if err != nil {
				return err
			}
			if currentVersion == opts.NewVersion {
				return fmt.Errorf("module %s is already at %s", opts.Package, opts.NewVersion)
			}
			opts.OldVersion = currentVersion
		}

		an, err := a.open()
		if err != nil {
			return err
		}
		defer a.close()

		if semver.IsValid(opts.OldVersion) && semver.IsValid(opts.NewVersion) &&
			semver.Compare(opts.NewVersion, opts.OldVersion) < 0 {
			slog.Warn("target version is older than current version",
				slog.String("old", opts.OldVersion),
				slog.String("new", opts.NewVersion),
			)
		}

		c, err := an.CompareVersions(ctx, opts.Package, opts.OldVersion, opts.NewVersion,
			analyzer.CompareOptions{Degraded: opts.Degraded})
		if err != nil {
			return err
		}
		return a.write(c, func() error { return cli.WriteComparison(os.Stdout, c) })
	}

	runResources := func(ctx context.Context, opts cli.VersionRangeOptions) error {
		an, err := a.open()
		if err != nil {
			return err
		}
		defer a.close()

		r, err := an.FindMigrationResources(ctx, opts.Package, opts.OldVersion, opts.NewVersion)
		if err != nil {
			return err
		}
		return a.write(r, func() error { return cli.WriteResources(os.Stdout, r) })
	}

	runReport := func(ctx context.Context, opts cli.ReportOptions) error {
		an, err := a.open()
		if err != nil {
			return err
		}
		defer a.close()

		r, err := an.Report(ctx, opts.Package, opts.OldVersion, opts.NewVersion, analyzer.ReportOptions{
			CompareOptions: analyzer.CompareOptions{Degraded: opts.Degraded},
			SkipResources:  opts.SkipResources,
		})
		if err != nil {
			return err
		}
		return a.write(r, func() error { return cli.WriteReport(os.Stdout, r) })
	}

	root := cli.NewRootCmd(version, &global)
	root.AddCommand(
		cli.NewExtractCmd(runExtract),
		cli.NewCompareCmd(runCompare),
		cli.NewResourcesCmd(runResources),
		cli.NewReportCmd(runReport),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (reason: %s)\n", err, apierr.ReasonOf(err))
		stop()
		os.Exit(1)
	}
}

// app builds the analyzer from config once the flags are parsed.
type app struct {
	global   *cli.GlobalOptions
	analyzer *analyzer.Analyzer
}

func (a *app) open() (*analyzer.Analyzer, error) {
	path := a.global.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if a.global.Ecosystem != "" {
		cfg.Ecosystem = a.global.Ecosystem
	}
	if a.global.Verbose {
		cfg.LogLevel = "debug"
	}

	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	d, finder, err := newDriver(cfg, logger)
	if err != nil {
		return nil, err
	}

	cacheOpts := []cache.Option{
		cache.WithCapacity(cfg.Cache.Capacity),
		cache.WithComputeTimeout(cfg.Cache.ComputeTimeout),
		cache.WithLogger(logger),
	}
	if cfg.Cache.Dir != "" {
		store, err := cache.OpenBadger(cache.BadgerConfig{
			Path:      cfg.Cache.Dir,
			Namespace: cfg.Ecosystem,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening cache store: %w", err)
		}
		cacheOpts = append(cacheOpts, cache.WithStore(store))
	}

	opts := []analyzer.Option{
		analyzer.WithCache(cache.New(cacheOpts...)),
		analyzer.WithLookupTimeout(cfg.Timeouts.Lookup),
		analyzer.WithResourceTimeout(cfg.Timeouts.Resource),
		analyzer.WithLogger(logger),
	}
	if finder != nil {
		opts = append(opts, analyzer.WithResourceFinder(finder))
	}
	a.analyzer = analyzer.New(d, opts...)
	return a.analyzer, nil
}

// newDriver wires the language driver for cfg.Ecosystem. Resource discovery
// is only available for PyPI.
func newDriver(cfg config.Config, logger *slog.Logger) (driver.LanguageDriver, driver.ResourceFinder, error) {
	switch cfg.Ecosystem {
	case config.EcosystemGolang:
		proxy := goproxy.NewClient(
			goproxy.WithProxy(cfg.Go.Proxy),
			goproxy.WithTimeout(cfg.Timeouts.Fetch),
			goproxy.WithLogger(logger),
		)
		return golangdriver.NewDriver(golangdriver.WithProxy(proxy), golangdriver.WithLogger(logger)), nil, nil
	}

	fetcher := fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(
		fetch.WithUserAgent("apidelta/"+version),
		fetch.WithMaxRetries(2),
	))
	index, err := pypi.NewClient(
		pypi.WithIndexURL(cfg.Python.IndexURL),
		pypi.WithTimeout(cfg.Timeouts.Fetch),
		pypi.WithFetcher(fetcher),
		pypi.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	opts := []pythondriver.Option{
		pythondriver.WithInterpreter(cfg.Python.Interpreter),
		pythondriver.WithIndex(index),
		pythondriver.WithMaxFiles(cfg.Python.MaxFiles),
		pythondriver.WithMaxModules(cfg.Python.MaxModules),
		pythondriver.WithLogger(logger),
	}
	if len(cfg.Python.SitePackages) > 0 {
		opts = append(opts, pythondriver.WithSitePackages(cfg.Python.SitePackages...))
	}

	finder := resources.New(index, resources.WithURLChecker(fetcher), resources.WithLogger(logger))
	return pythondriver.NewDriver(opts...), finder, nil
}

func (a *app) write(v any, text func() error) error {
	if a.global.Format == cli.FormatJSON {
		return cli.WriteJSON(os.Stdout, v)
	}
	return text()
}

func (a *app) close() {
	if a.analyzer == nil {
		return
	}
	if a.global.Stats {
		cli.WriteStats(os.Stderr, a.analyzer.CacheStats())
	}
	if err := a.analyzer.Close(); err != nil {
		slog.Warn("closing analyzer", slog.String("error", err.Error()))
	}
}
