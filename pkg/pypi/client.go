// Package pypi talks to a PyPI-compatible index: release metadata, release
// files and their downloads.
package pypi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/git-pkgs/registries"
	_ "github.com/git-pkgs/registries/all"
	"github.com/git-pkgs/registries/fetch"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/surface"
)

const (
	DefaultIndexURL  = "https://pypi.org"
	defaultUserAgent = "apidelta/0.1.0"
	defaultTimeout   = 60 * time.Second
	maxReleaseSize   = 200 * 1024 * 1024
)

// File is one distribution file of a release.
type File struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	PackageType string `json:"packagetype"`
	PythonTag   string `json:"python_version"`
	Size        int64  `json:"size"`
	Yanked      bool   `json:"yanked"`
}

// IsSdist reports whether f is a source distribution.
func (f File) IsSdist() bool { return f.PackageType == "sdist" }

// IsWheel reports whether f is a wheel.
func (f File) IsWheel() bool { return f.PackageType == "bdist_wheel" }

// Release is the per-version view of a project.
type Release struct {
	Name         string
	Version      string
	Summary      string
	ProjectURLs  map[string]string
	RequiresDist []string
	Files        []File
}

type releaseResponse struct {
	Info struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Summary      string            `json:"summary"`
		ProjectURLs  map[string]string `json:"project_urls"`
		RequiresDist []string          `json:"requires_dist"`
	} `json:"info"`
	URLs []File `json:"urls"`
}

// Project is the version independent view of a project.
type Project struct {
	Name          string
	Homepage      string
	Repository    string
	Documentation string
}

// Client wraps a registries.Registry for metadata and a fetch.Fetcher for
// file downloads.
type Client struct {
	baseURL string
	timeout time.Duration
	logger  *slog.Logger

	http    *registries.Client
	reg     registries.Registry
	fetcher fetch.FetcherInterface
}

// Option configures a Client.
type Option func(*Client)

// WithIndexURL points the client at a different index. Trailing slashes
// are dropped.
func WithIndexURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout bounds each metadata request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFetcher replaces the download fetcher.
func WithFetcher(f fetch.FetcherInterface) Option {
	return func(c *Client) { c.fetcher = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client for the public index unless WithIndexURL says
// otherwise.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: DefaultIndexURL,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = registries.NewClient(
		registries.WithTimeout(c.timeout),
		registries.WithMaxRetries(2),
	).WithUserAgent(defaultUserAgent)

	reg, err := registries.New("pypi", c.baseURL, c.http)
	if err != nil {
		return nil, fmt.Errorf("creating pypi registry: %w", err)
	}
	c.reg = reg

	if c.fetcher == nil {
		c.fetcher = fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(
			fetch.WithUserAgent(defaultUserAgent),
			fetch.WithMaxRetries(2),
		))
	}
	return c, nil
}

// Release fetches the metadata and file list of name@version.
func (c *Client) Release(ctx context.Context, name, version string) (*Release, error) {
	url := fmt.Sprintf("%s/pypi/%s/%s/json", c.baseURL, name, version)

	var resp releaseResponse
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return nil, c.classify(name, version, fmt.Errorf("fetching release %s@%s: %w", name, version, err))
	}

	files := make([]File, 0, len(resp.URLs))
	for _, f := range resp.URLs {
		if !f.Yanked {
			files = append(files, f)
		}
	}
	return &Release{
		Name:         resp.Info.Name,
		Version:      resp.Info.Version,
		Summary:      resp.Info.Summary,
		ProjectURLs:  resp.Info.ProjectURLs,
		RequiresDist: resp.Info.RequiresDist,
		Files:        files,
	}, nil
}

// SourceFile picks the file to analyze statically: the sdist when there is
// one, else a pure-python wheel, else any wheel.
func (c *Client) SourceFile(ctx context.Context, name, version string) (File, error) {
	rel, err := c.Release(ctx, name, version)
	if err != nil {
		return File{}, err
	}
	if f, ok := pickSourceFile(rel.Files); ok {
		return f, nil
	}
	return File{}, &apierr.NotFoundError{
		Package: name,
		Version: version,
		Err:     errors.New("release has no sdist or wheel"),
	}
}

func pickSourceFile(files []File) (File, bool) {
	var wheel, pure File
	for _, f := range files {
		switch {
		case f.IsSdist():
			return f, true
		case f.IsWheel() && pure.URL == "" && strings.HasSuffix(f.Filename, "-none-any.whl"):
			pure = f
		case f.IsWheel() && wheel.URL == "":
			wheel = f
		}
	}
	if pure.URL != "" {
		return pure, true
	}
	return wheel, wheel.URL != ""
}

// Download reads the whole file at f.URL.
func (c *Client) Download(ctx context.Context, f File) ([]byte, error) {
	art, err := c.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		return nil, c.classify("", "", fmt.Errorf("downloading %s: %w", f.Filename, err))
	}
	defer art.Body.Close()

	data, err := io.ReadAll(io.LimitReader(art.Body, maxReleaseSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Filename, err)
	}
	if int64(len(data)) > maxReleaseSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Filename, maxReleaseSize)
	}
	c.logger.Debug("downloaded release file", slog.String("file", f.Filename), slog.Int("bytes", len(data)))
	return data, nil
}

// Requirements returns the unconditional requirements of name@version.
// Requirements guarded by an "extra" marker belong to optional features and
// are left out.
func (c *Client) Requirements(ctx context.Context, name, version string) ([]surface.Requirement, error) {
	deps, err := c.reg.FetchDependencies(ctx, name, version)
	if err != nil {
		return nil, c.classify(name, version, fmt.Errorf("fetching dependencies of %s@%s: %w", name, version, err))
	}

	reqs := make([]surface.Requirement, 0, len(deps))
	for _, d := range deps {
		if d.Optional && strings.Contains(string(d.Scope), "extra") {
			continue
		}
		constraint := d.Requirements
		if constraint == "*" {
			constraint = ""
		}
		reqs = append(reqs, surface.Requirement{Name: NormalizeName(d.Name), Constraint: constraint})
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
	return reqs, nil
}

// Project fetches the version independent project links.
func (c *Client) Project(ctx context.Context, name string) (*Project, error) {
	pkg, err := c.reg.FetchPackage(ctx, name)
	if err != nil {
		return nil, c.classify(name, "", fmt.Errorf("fetching project %s: %w", name, err))
	}
	p := &Project{
		Name:       pkg.Name,
		Homepage:   pkg.Homepage,
		Repository: pkg.Repository,
	}
	if doc, ok := pkg.Metadata["documentation"].(string); ok {
		p.Documentation = doc
	}
	return p, nil
}

// URLs exposes the registry's URL builder.
func (c *Client) URLs() registries.URLBuilder {
	return c.reg.URLs()
}

// classify maps registry and fetch failures onto the analyzer's taxonomy.
func (c *Client) classify(name, version string, err error) error {
	var nf *registries.NotFoundError
	var httpErr *registries.HTTPError
	switch {
	case errors.As(err, &nf), errors.Is(err, registries.ErrNotFound), errors.Is(err, fetch.ErrNotFound):
		return &apierr.NotFoundError{Package: name, Version: version, Err: err}
	case errors.As(err, &httpErr) && httpErr.IsNotFound():
		return &apierr.NotFoundError{Package: name, Version: version, Err: err}
	case errors.As(err, &httpErr) && httpErr.StatusCode >= 500,
		errors.Is(err, fetch.ErrUpstreamDown),
		errors.Is(err, fetch.ErrRateLimited):
		return &apierr.Unreachable{Err: err}
	}
	return err
}

var pep508Name = regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9._]*[A-Za-z0-9]|[A-Za-z0-9])(\s*\[.*?\])?`)

// NormalizeName applies PEP 503 name normalization.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

// ParseRequirement splits a PEP 508 requirement line. ok is false for
// lines that carry an "extra" marker or no parseable name.
func ParseRequirement(line string) (req surface.Requirement, ok bool) {
	spec, marker, _ := strings.Cut(line, ";")
	if strings.Contains(marker, "extra") {
		return surface.Requirement{}, false
	}
	spec = strings.TrimSpace(spec)

	m := pep508Name.FindStringSubmatch(spec)
	if m == nil {
		return surface.Requirement{}, false
	}
	constraint := strings.TrimSpace(spec[len(m[0]):])
	constraint = strings.TrimSpace(strings.Trim(constraint, "()"))
	return surface.Requirement{Name: NormalizeName(m[1]), Constraint: constraint}, true
}
