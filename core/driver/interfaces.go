package driver

import (
	"context"
	"errors"

	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/surface"
)

// ErrLiveUnavailable is returned by InspectLive when the artifact cannot be
// loaded in-process. The extractor falls back to static parsing.
var ErrLiveUnavailable = errors.New("live inspection unavailable")

// Artifact is one resolved package version.
type Artifact struct {
	Package string
	Version string

	// Loadable is set when the version is installed locally and can be
	// inspected live.
	Loadable bool

	// FreshnessToken changes whenever the underlying content may have
	// changed. For published versions it is the version identity; for local
	// installations it includes the installation's modification marker.
	FreshnessToken string

	// Location is a driver specific hint, such as the installed directory.
	Location string
}

// Source is unpacked source text for one artifact.
type Source struct {
	// Root is the directory holding the unpacked source.
	Root string

	// Files lists source files relative to Root, when the driver already
	// knows them. Empty means ParseSource walks Root itself.
	Files []string

	// Cleanup removes anything FetchSource created. It may be nil.
	Cleanup func()
}

// Close runs Cleanup if set.
func (s Source) Close() {
	if s.Cleanup != nil {
		s.Cleanup()
	}
}

// LanguageDriver is the interface each ecosystem must implement to have its
// package versions analyzed.
type LanguageDriver interface {
	// Ecosystem names the package ecosystem, e.g. "pypi" or "golang".
	Ecosystem() string

	// ResolveArtifact locates pkg@version. It returns *apierr.NotFoundError
	// when the driver can tell the version does not exist. Published
	// versions may resolve without network access, in which case a missing
	// version surfaces from FetchSource instead.
	ResolveArtifact(ctx context.Context, pkg, version string) (Artifact, error)

	// FetchSource downloads and unpacks the artifact's source. The caller
	// must call Source.Close when done.
	FetchSource(ctx context.Context, a Artifact) (Source, error)

	// InspectLive extracts the surface of a loadable artifact by inspecting
	// it in a separate process. Returns ErrLiveUnavailable when the
	// ecosystem or artifact does not support it.
	InspectLive(ctx context.Context, a Artifact) (*surface.APISurface, error)

	// ParseSource extracts the surface from unpacked source using syntax
	// trees only. Unreadable files are dropped and mark the surface partial;
	// an error means nothing could be parsed at all.
	ParseSource(ctx context.Context, a Artifact, src Source) (*surface.APISurface, error)
}

// ResourceFinder discovers migration guides and changelogs for a version
// range. Results are neither retried nor cached by the analyzer.
type ResourceFinder interface {
	FindMigrationResources(ctx context.Context, pkg, oldVersion, newVersion string) (*changespec.MigrationResources, error)
}
