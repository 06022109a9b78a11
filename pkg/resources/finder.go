// Package resources finds migration guides, changelogs and documentation
// for a package upgrade.
package resources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/git-pkgs/registries"
	"golang.org/x/sync/errgroup"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/pkg/pypi"
)

const maxConcurrentChecks = 4

// Metadata is the subset of the PyPI client the finder uses.
type Metadata interface {
	Project(ctx context.Context, name string) (*pypi.Project, error)
	Release(ctx context.Context, name, version string) (*pypi.Release, error)
	URLs() registries.URLBuilder
}

// URLChecker checks that a guessed URL exists.
type URLChecker interface {
	Head(ctx context.Context, url string) (size int64, contentType string, err error)
}

type category int

const (
	ignored       category = -1
	officialGuide category = iota - 1
	changelog
	community
	documentation
)

var (
	githubRepo = regexp.MustCompile(`github\.com/([^/]+)/([^/#?]+)`)

	changelogFiles = []string{
		"CHANGELOG.md", "CHANGELOG.rst", "CHANGES.md", "CHANGES.rst",
		"HISTORY.md", "HISTORY.rst", "NEWS.md", "NEWS.rst",
	}
	docsGuidePaths     = []string{"migration/", "migrating/", "upgrading/"}
	docsChangelogPaths = []string{"changelog.html", "changes.html", "history.html"}
)

// Finder implements driver.ResourceFinder for PyPI projects.
type Finder struct {
	meta    Metadata
	checker URLChecker
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Finder.
type Option func(*Finder)

// WithURLChecker enables guessing well-known changelog and guide locations.
// Guesses are kept only when the checker finds them.
func WithURLChecker(p URLChecker) Option {
	return func(f *Finder) { f.checker = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Finder) { f.logger = l }
}

// New creates a Finder.
func New(meta Metadata, opts ...Option) *Finder {
	f := &Finder{
		meta:   meta,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// collected accumulates links per category without duplicates.
type collected struct {
	seen  map[string]bool
	lists [4][]string
}

func (c *collected) add(cat category, link string) {
	if link == "" || cat == ignored {
		return
	}
	if c.seen[link] {
		return
	}
	c.seen[link] = true
	c.lists[cat] = append(c.lists[cat], link)
}

func (c *collected) empty(cats ...category) bool {
	for _, cat := range cats {
		if len(c.lists[cat]) > 0 {
			return false
		}
	}
	return true
}

type guess struct {
	cat   category
	check string
	link  string
}

// FindMigrationResources looks up project links for pkg and classifies them.
func (f *Finder) FindMigrationResources(ctx context.Context, pkg, oldVersion, newVersion string) (*changespec.MigrationResources, error) {
	project, err := f.meta.Project(ctx, pkg)
	if err != nil {
		return nil, fmt.Errorf("looking up project %s: %w", pkg, err)
	}

	found := &collected{seen: make(map[string]bool)}

	release, err := f.meta.Release(ctx, pkg, newVersion)
	switch {
	case err == nil:
		labels := make([]string, 0, len(release.ProjectURLs))
		for label := range release.ProjectURLs {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			found.add(classify(label), release.ProjectURLs[label])
		}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		f.logger.Debug("release metadata unavailable",
			slog.String("package", pkg),
			slog.String("version", newVersion),
			slog.String("reason", string(apierr.ReasonOf(err))))
	}

	if project.Documentation != "" {
		found.add(documentation, project.Documentation)
	}
	found.add(documentation, f.meta.URLs().Registry(pkg, newVersion))

	var guesses []guess
	if owner, repo, ok := parseGitHub(project.Repository); ok {
		base := fmt.Sprintf("https://github.com/%s/%s", owner, repo)
		found.add(changelog, base+"/releases")
		for _, name := range changelogFiles {
			guesses = append(guesses, guess{
				cat:   changelog,
				check: fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/HEAD/%s", owner, repo, name),
				link:  fmt.Sprintf("%s/blob/HEAD/%s", base, name),
			})
		}
	}
	if docs := docsRoot(project.Documentation, f.meta.URLs().Documentation(pkg, "")); docs != "" {
		for _, p := range docsGuidePaths {
			guesses = append(guesses, guess{cat: officialGuide, check: docs + "en/stable/" + p, link: docs + "en/stable/" + p})
		}
		for _, p := range docsChangelogPaths {
			guesses = append(guesses, guess{cat: changelog, check: docs + "en/stable/" + p, link: docs + "en/stable/" + p})
		}
	}
	if err := f.checkGuesses(ctx, found, guesses); err != nil {
		return nil, err
	}

	if found.empty(officialGuide, changelog) {
		found.add(community, "https://github.com/search?type=repositories&q="+url.QueryEscape(pkg+" migration upgrade"))
		found.add(community, "https://stackoverflow.com/search?q="+url.QueryEscape(pkg+" upgrade migration"))
	}

	return &changespec.MigrationResources{
		PackageName:        pkg,
		VersionRange:       oldVersion + " -> " + newVersion,
		OfficialGuides:     nonNil(found.lists[officialGuide]),
		Changelogs:         nonNil(found.lists[changelog]),
		CommunityResources: nonNil(found.lists[community]),
		DocumentationLinks: nonNil(found.lists[documentation]),
		SearchedAt:         f.now().UTC(),
	}, nil
}

// checkGuesses keeps the guesses whose check URL answers. Individual
// failures are ignored; only cancellation is reported.
func (f *Finder) checkGuesses(ctx context.Context, found *collected, guesses []guess) error {
	if f.checker == nil || len(guesses) == 0 {
		return nil
	}

	// Results land in a per-index slot so the output order does not
	// depend on which request finishes first.
	ok := make([]bool, len(guesses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for i, p := range guesses {
		g.Go(func() error {
			if _, _, err := f.checker.Head(gctx, p.check); err != nil {
				f.logger.Debug("guess missed", slog.String("url", p.check), slog.Any("error", err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, p := range guesses {
		if ok[i] {
			found.add(p.cat, p.link)
		}
	}
	return nil
}

// classify maps a project_urls label to a category.
func classify(label string) category {
	l := strings.ToLower(label)
	switch {
	case containsAny(l, "migrat", "upgrad", "porting"):
		return officialGuide
	case containsAny(l, "changelog", "change log", "changes", "release", "history", "what's new", "whats new", "news"):
		return changelog
	case containsAny(l, "issue", "tracker", "bug", "discuss", "forum", "chat", "discord", "gitter", "mailing"):
		return community
	case containsAny(l, "source", "code", "repository", "homepage", "home page", "funding", "donate", "sponsor"):
		return ignored
	}
	return documentation
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func parseGitHub(repoURL string) (owner, repo string, ok bool) {
	m := githubRepo.FindStringSubmatch(repoURL)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), true
}

// docsRoot returns "https://<project>.readthedocs.io/" when the project's
// documentation is hosted on readthedocs, falling back to the registry's
// guess only if the project declares no documentation at all.
func docsRoot(declared, guessed string) string {
	candidate := declared
	if candidate == "" {
		candidate = guessed
	}
	u, err := url.Parse(candidate)
	if err != nil || !strings.HasSuffix(u.Host, ".readthedocs.io") {
		return ""
	}
	return "https://" + u.Host + "/"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
