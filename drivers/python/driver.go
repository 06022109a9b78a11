// Package python implements the language driver for PyPI packages.
//
// Installed versions are inspected live by importing them in a separate
// interpreter; everything else is downloaded from the package index and
// parsed with tree-sitter. Downloaded code is never executed.
package python

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/driver"
	"github.com/emenda-labs/apidelta/core/surface"
	"github.com/emenda-labs/apidelta/pkg/archive"
	"github.com/emenda-labs/apidelta/pkg/pypi"
)

const (
	ecosystem = "pypi"

	defaultInterpreter = "python3"
	defaultMaxFiles    = 400
	defaultMaxModules  = 20
)

var _ driver.LanguageDriver = (*Driver)(nil)

// Index is the subset of the package index the driver reads from.
// *pypi.Client satisfies it.
type Index interface {
	SourceFile(ctx context.Context, name, version string) (pypi.File, error)
	Download(ctx context.Context, f pypi.File) ([]byte, error)
	Requirements(ctx context.Context, name, version string) ([]surface.Requirement, error)
}

// Driver implements driver.LanguageDriver for Python distributions.
type Driver struct {
	interpreter string
	index       Index
	maxFiles    int
	maxModules  int
	logger      *slog.Logger

	mu        sync.Mutex
	siteDirs  []string
	sitesRead bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithInterpreter sets the interpreter used for live inspection and
// site-packages discovery.
func WithInterpreter(path string) Option {
	return func(d *Driver) {
		if path != "" {
			d.interpreter = path
		}
	}
}

// WithSitePackages fixes the directories searched for installed
// distributions instead of asking the interpreter.
func WithSitePackages(dirs ...string) Option {
	return func(d *Driver) {
		d.siteDirs = append([]string(nil), dirs...)
		d.sitesRead = true
	}
}

// WithIndex sets the package index used for versions that are not
// installed. Without it only installed versions can be analyzed.
func WithIndex(idx Index) Option {
	return func(d *Driver) { d.index = idx }
}

// WithMaxFiles caps the number of source files parsed per version.
func WithMaxFiles(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxFiles = n
		}
	}
}

// WithMaxModules caps the number of modules imported during live
// inspection.
func WithMaxModules(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxModules = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a Driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		interpreter: defaultInterpreter,
		maxFiles:    defaultMaxFiles,
		maxModules:  defaultMaxModules,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Ecosystem() string { return ecosystem }

// ResolveArtifact prefers an installed distribution of exactly version.
// Published versions resolve without network access; a missing version is
// reported by FetchSource.
func (d *Driver) ResolveArtifact(ctx context.Context, pkg, version string) (driver.Artifact, error) {
	if strings.TrimSpace(pkg) == "" || strings.TrimSpace(version) == "" {
		return driver.Artifact{}, errors.New("package and version are required")
	}

	a := driver.Artifact{
		Package:        pkg,
		Version:        version,
		FreshnessToken: "pypi:" + version,
	}

	inst, ok := findInstallation(d.sitePackages(ctx), pkg, version)
	if !ok {
		return a, nil
	}
	a.Loadable = true
	a.Location = inst.DistInfo
	a.FreshnessToken = "installed:" + version + ":" + installMarker(inst.DistInfo)
	d.logger.Debug("using installed distribution",
		slog.String("package", pkg),
		slog.String("version", version),
		slog.String("location", inst.DistInfo),
	)
	return a, nil
}

// installMarker changes whenever the installation is rewritten in place.
func installMarker(distInfo string) string {
	for _, name := range []string{"RECORD", "METADATA"} {
		if info, err := os.Stat(filepath.Join(distInfo, name)); err == nil {
			return strconv.FormatInt(info.ModTime().UnixNano(), 10)
		}
	}
	return "0"
}

// FetchSource returns the installed files of a loadable artifact, or
// downloads and unpacks the published source distribution.
func (d *Driver) FetchSource(ctx context.Context, a driver.Artifact) (driver.Source, error) {
	if a.Loadable && a.Location != "" {
		files, err := recordFiles(a.Location)
		if err != nil {
			d.logger.Debug("RECORD unreadable, walking site-packages",
				slog.String("location", a.Location),
				slog.String("error", err.Error()),
			)
			files = nil
		}
		return driver.Source{Root: filepath.Dir(a.Location), Files: files}, nil
	}

	if d.index == nil {
		return driver.Source{}, &apierr.NotFoundError{
			Package: a.Package,
			Version: a.Version,
			Err:     errors.New("not installed and no package index configured"),
		}
	}

	file, err := d.index.SourceFile(ctx, a.Package, a.Version)
	if err != nil {
		return driver.Source{}, fmt.Errorf("choosing release file: %w", err)
	}
	data, err := d.index.Download(ctx, file)
	if err != nil {
		return driver.Source{}, fmt.Errorf("downloading %s: %w", file.Filename, err)
	}

	dir, cleanup, err := archive.Extract(data, file.Filename, a.Package+"-"+a.Version)
	if err != nil {
		return driver.Source{}, &apierr.Unparseable{Err: fmt.Errorf("extracting %s: %w", file.Filename, err)}
	}
	return driver.Source{Root: dir, Cleanup: cleanup}, nil
}

// ParseSource parses every public module of src with tree-sitter.
func (d *Driver) ParseSource(ctx context.Context, a driver.Artifact, src driver.Source) (*surface.APISurface, error) {
	b := surface.NewBuilder(a.Package, a.Version, surface.StrategyStatic)

	base, files := src.Root, src.Files
	if len(files) == 0 {
		var err error
		base, files, err = discoverSources(src.Root, a.Package)
		if err != nil {
			return nil, &apierr.Unparseable{Err: err}
		}
	}

	if len(files) > d.maxFiles {
		b.MarkPartial(fmt.Sprintf("file limit of %d reached, %d files skipped", d.maxFiles, len(files)-d.maxFiles))
		files = files[:d.maxFiles]
	}

	parsed := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(rel)))
		if err != nil {
			b.MarkPartial(fmt.Sprintf("%s: %v", rel, err))
			continue
		}
		module := modulePath(rel)
		elements, err := parseModule(ctx, module, data)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			b.MarkPartial(fmt.Sprintf("%s: %v", rel, err))
			continue
		}
		parsed++
		b.AddModule(module)
		for _, e := range elements {
			if err := b.Add(e); err != nil {
				b.MarkPartial(fmt.Sprintf("%s: %v", rel, err))
			}
		}
	}
	if parsed == 0 {
		return nil, &apierr.Unparseable{Err: fmt.Errorf("none of %d source files could be parsed", len(files))}
	}

	d.requirements(ctx, b, a, src)
	return b.Build(), nil
}

// requirements reads declared dependencies from the unpacked metadata,
// asking the index when the metadata leaves them out.
func (d *Driver) requirements(ctx context.Context, b *surface.Builder, a driver.Artifact, src driver.Source) {
	var path string
	if a.Loadable && a.Location != "" {
		path = filepath.Join(a.Location, "METADATA")
	} else if p, ok := findMetadataFile(src.Root); ok {
		path = p
	}

	if path != "" {
		md, err := readMetadata(path)
		if err == nil && md.declaresRequirements(path) {
			b.SetRequirements(md.Requirements)
			return
		}
		if err != nil {
			d.logger.Debug("reading metadata", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	if d.index == nil {
		return
	}
	reqs, err := d.index.Requirements(ctx, a.Package, a.Version)
	if err != nil {
		b.MarkPartial("requirements unavailable: " + err.Error())
		return
	}
	b.SetRequirements(reqs)
}

// InspectLive imports an installed distribution in a child interpreter and
// dumps its namespace.
func (d *Driver) InspectLive(ctx context.Context, a driver.Artifact) (*surface.APISurface, error) {
	if !a.Loadable || a.Location == "" {
		return nil, driver.ErrLiveUnavailable
	}

	names := importNames(a.Location, a.Package)
	out, err := d.runInspector(ctx, filepath.Dir(a.Location), names)
	if err != nil {
		return nil, err
	}

	b := surface.NewBuilder(a.Package, a.Version, surface.StrategyLive)
	if err := buildFromDump(b, out, d.maxModules); err != nil {
		return nil, err
	}

	metadata := filepath.Join(a.Location, "METADATA")
	if md, err := readMetadata(metadata); err == nil {
		b.SetRequirements(md.Requirements)
	} else {
		b.MarkPartial("requirements unavailable: " + err.Error())
	}
	return b.Build(), nil
}

// sitePackages returns the interpreter's site directories. A failed lookup
// is retried on the next call.
func (d *Driver) sitePackages(ctx context.Context) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sitesRead {
		return d.siteDirs
	}

	dirs, err := querySitePackages(ctx, d.interpreter)
	if err != nil {
		d.logger.Debug("site-packages lookup failed",
			slog.String("interpreter", d.interpreter),
			slog.String("error", err.Error()),
		)
		return nil
	}
	d.siteDirs, d.sitesRead = dirs, true
	return dirs
}

const siteScript = `import site, sysconfig
paths = [sysconfig.get_paths().get(k) for k in ("purelib", "platlib")]
try:
    paths += site.getsitepackages()
except AttributeError:
    pass
try:
    paths.append(site.getusersitepackages())
except AttributeError:
    pass
seen = set()
for p in paths:
    if p and p not in seen:
        seen.add(p)
        print(p)
`

func querySitePackages(ctx context.Context, interpreter string) ([]string, error) {
	cmd := exec.CommandContext(ctx, interpreter, "-I", "-c", siteScript)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", interpreter, err)
	}
	var dirs []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		if info, err := os.Stat(line); err == nil && info.IsDir() {
			dirs = append(dirs, line)
		}
	}
	return dirs, nil
}
