package python

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/driver"
	"github.com/emenda-labs/apidelta/core/surface"
	"github.com/emenda-labs/apidelta/pkg/pypi"
)

// fakeIndex serves one in-memory sdist per version.
type fakeIndex struct {
	sdists       map[string][]byte
	requirements []surface.Requirement
	reqErr       error
	downloads    int
}

func (f *fakeIndex) SourceFile(ctx context.Context, name, version string) (pypi.File, error) {
	if _, ok := f.sdists[version]; !ok {
		return pypi.File{}, &apierr.NotFoundError{Package: name, Version: version}
	}
	return pypi.File{Filename: name + "-" + version + ".tar.gz", URL: version, PackageType: "sdist"}, nil
}

func (f *fakeIndex) Download(ctx context.Context, file pypi.File) ([]byte, error) {
	f.downloads++
	return f.sdists[file.URL], nil
}

func (f *fakeIndex) Requirements(ctx context.Context, name, version string) ([]surface.Requirement, error) {
	return f.requirements, f.reqErr
}

func sdist(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestResolveArtifact(t *testing.T) {
	site := t.TempDir()
	distInfo := writeInstallation(t, site, "Demo_Pkg", "1.0", map[string]string{
		"demo_pkg/__init__.py": "X = 1\n",
	})
	d := NewDriver(WithSitePackages(site))

	a, err := d.ResolveArtifact(context.Background(), "demo-pkg", "1.0")
	require.NoError(t, err)
	assert.True(t, a.Loadable)
	assert.Equal(t, distInfo, a.Location)
	assert.True(t, strings.HasPrefix(a.FreshnessToken, "installed:1.0:"))

	a, err = d.ResolveArtifact(context.Background(), "demo-pkg", "2.0")
	require.NoError(t, err)
	assert.False(t, a.Loadable)
	assert.Equal(t, "pypi:2.0", a.FreshnessToken)

	_, err = d.ResolveArtifact(context.Background(), "demo-pkg", "")
	assert.Error(t, err)
}

func TestFetchSource_NoIndex(t *testing.T) {
	d := NewDriver(WithSitePackages())
	_, err := d.FetchSource(context.Background(), driver.Artifact{Package: "demo", Version: "1.0"})
	require.Error(t, err)
	assert.Equal(t, apierr.ReasonNotFound, apierr.ReasonOf(err))
}

func TestFetchSource_MissingVersion(t *testing.T) {
	d := NewDriver(WithSitePackages(), WithIndex(&fakeIndex{}))
	_, err := d.FetchSource(context.Background(), driver.Artifact{Package: "demo", Version: "9.9"})
	require.Error(t, err)
	assert.Equal(t, apierr.ReasonNotFound, apierr.ReasonOf(err))
}

func TestFetchSource_BadArchive(t *testing.T) {
	idx := &fakeIndex{sdists: map[string][]byte{"1.0": []byte("not a tarball")}}
	d := NewDriver(WithSitePackages(), WithIndex(idx))
	_, err := d.FetchSource(context.Background(), driver.Artifact{Package: "demo", Version: "1.0"})
	require.Error(t, err)
	assert.Equal(t, apierr.ReasonUnparseable, apierr.ReasonOf(err))
}

func TestStaticFromIndex(t *testing.T) {
	idx := &fakeIndex{
		sdists: map[string][]byte{"1.0": sdist(t, map[string]string{
			"demo-1.0/PKG-INFO":                 "Metadata-Version: 2.1\nName: demo\nVersion: 1.0\nRequires-Dist: attrs>=21\n",
			"demo-1.0/setup.py":                 "from setuptools import setup\nsetup()\n",
			"demo-1.0/src/demo/__init__.py":     "from .core import run\nVERSION = '1.0'\n",
			"demo-1.0/src/demo/core.py":         "def run(task, *, retries=3):\n    pass\n",
			"demo-1.0/src/demo/broken.py":       "def broken(:\n",
			"demo-1.0/src/demo/_private.py":     "def hidden():\n    pass\n",
			"demo-1.0/src/demo/tests/test_a.py": "def test_a():\n    pass\n",
		})},
		requirements: []surface.Requirement{{Name: "unused"}},
	}
	d := NewDriver(WithSitePackages(), WithIndex(idx))
	ctx := context.Background()

	a, err := d.ResolveArtifact(ctx, "demo", "1.0")
	require.NoError(t, err)
	src, err := d.FetchSource(ctx, a)
	require.NoError(t, err)
	defer src.Close()

	s, err := d.ParseSource(ctx, a, src)
	require.NoError(t, err)

	assert.Equal(t, surface.StrategyStatic, s.Strategy)
	assert.Equal(t, []string{"demo", "demo.core"}, s.Modules)
	assert.True(t, s.Partial)
	require.Len(t, s.PartialReasons, 1)
	assert.Contains(t, s.PartialReasons[0], "demo/broken.py")

	run, ok := s.Lookup(surface.KindFunction, "demo.core.run")
	require.True(t, ok)
	assert.Len(t, run.Signature.Params, 2)
	_, ok = s.Lookup(surface.KindConstant, "demo.VERSION")
	assert.True(t, ok)
	_, ok = s.Lookup(surface.KindFunction, "demo._private.hidden")
	assert.False(t, ok)

	assert.True(t, s.DeclaresRequirements)
	assert.Equal(t, []surface.Requirement{{Name: "attrs", Constraint: ">=21"}}, s.Requirements)

	root := src.Root
	src.Close()
	_, err = os.Stat(root)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseSource_RequirementsFromIndex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "demo-1.0/PKG-INFO", "Metadata-Version: 1.1\nName: demo\nVersion: 1.0\n")
	writeFile(t, root, "demo-1.0/demo.py", "def go():\n    pass\n")

	idx := &fakeIndex{requirements: []surface.Requirement{{Name: "six"}}}
	d := NewDriver(WithSitePackages(), WithIndex(idx))
	s, err := d.ParseSource(context.Background(), driver.Artifact{Package: "demo", Version: "1.0"}, driver.Source{Root: root})
	require.NoError(t, err)

	assert.Equal(t, []string{"demo"}, s.Modules)
	assert.Equal(t, []surface.Requirement{{Name: "six"}}, s.Requirements)
}

func TestParseSource_RequirementsUnavailable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "demo/__init__.py", "def go():\n    pass\n")

	idx := &fakeIndex{reqErr: &apierr.Unreachable{Err: errors.New("503")}}
	d := NewDriver(WithSitePackages(), WithIndex(idx))
	s, err := d.ParseSource(context.Background(), driver.Artifact{Package: "demo", Version: "1.0"}, driver.Source{Root: root})
	require.NoError(t, err)
	assert.True(t, s.Partial)
	assert.False(t, s.DeclaresRequirements)
}

func TestParseSource_FileLimit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, root, "demo/"+name+".py", "def f():\n    pass\n")
	}
	d := NewDriver(WithSitePackages(), WithMaxFiles(2))
	s, err := d.ParseSource(context.Background(), driver.Artifact{Package: "demo", Version: "1.0"}, driver.Source{Root: root})
	require.NoError(t, err)
	assert.Equal(t, []string{"demo.a", "demo.b"}, s.Modules)
	assert.Equal(t, []string{"file limit of 2 reached, 1 files skipped"}, s.PartialReasons)
}

func TestParseSource_NothingParsed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "demo/__init__.py", "def broken(:\n")

	d := NewDriver(WithSitePackages())
	_, err := d.ParseSource(context.Background(), driver.Artifact{Package: "demo", Version: "1.0"}, driver.Source{Root: root})
	require.Error(t, err)
	assert.Equal(t, apierr.ReasonUnparseable, apierr.ReasonOf(err))

	_, err = d.ParseSource(context.Background(), driver.Artifact{Package: "other", Version: "1.0"}, driver.Source{Root: root})
	require.Error(t, err)
	assert.Equal(t, apierr.ReasonUnparseable, apierr.ReasonOf(err))
}

func TestStaticFromInstallation(t *testing.T) {
	site := t.TempDir()
	writeInstallation(t, site, "demo", "1.0", map[string]string{
		"demo/__init__.py":      "def go():\n    pass\n",
		"demo/tests/test_x.py":  "def test_x():\n    pass\n",
		"other/__init__.py":     "def not_ours():\n    pass\n",
		"demo/_vendor/thing.py": "def vendored():\n    pass\n",
	})
	// Files of other distributions are not listed in this RECORD.
	writeFile(t, site, "unrelated/__init__.py", "def unrelated():\n    pass\n")

	idx := &fakeIndex{}
	d := NewDriver(WithSitePackages(site), WithIndex(idx))
	ctx := context.Background()

	a, err := d.ResolveArtifact(ctx, "demo", "1.0")
	require.NoError(t, err)
	src, err := d.FetchSource(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, site, src.Root)
	assert.Equal(t, []string{"demo/__init__.py", "other/__init__.py"}, src.Files)

	s, err := d.ParseSource(ctx, a, src)
	require.NoError(t, err)
	_, ok := s.Lookup(surface.KindFunction, "demo.go")
	assert.True(t, ok)
	_, ok = s.Lookup(surface.KindFunction, "unrelated.unrelated")
	assert.False(t, ok)
	assert.Equal(t, 0, idx.downloads)
	assert.Equal(t, []surface.Requirement{{Name: "requests", Constraint: ">=2.0"}}, s.Requirements)
}

func TestImportNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "top_level.txt", "yaml\n_yaml\n")
	assert.Equal(t, []string{"yaml"}, importNames(dir, "PyYAML"))

	site := t.TempDir()
	distInfo := writeInstallation(t, site, "demo", "1.0", map[string]string{
		"demo_core/__init__.py": "",
		"single.py":             "",
	})
	assert.Equal(t, []string{"demo_core", "single"}, importNames(distInfo, "demo"))

	assert.Equal(t, []string{"my_pkg"}, importNames(t.TempDir(), "My.Pkg"))
}

func TestSkipSourceFile(t *testing.T) {
	tests := map[string]bool{
		"pkg/__init__.py":      false,
		"pkg/core.py":          false,
		"pkg/_impl.py":         true,
		"pkg/test_core.py":     true,
		"pkg/core_test.py":     true,
		"pkg/tests/helpers.py": true,
		"pkg/_vendor/six.py":   true,
		"pkg/sub/__init__.py":  false,
		"conftest.py":          true,
		"docs/conf.py":         true,
	}
	for in, want := range tests {
		if got := skipSourceFile(in); got != want {
			t.Errorf("skipSourceFile(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestModulePath(t *testing.T) {
	assert.Equal(t, "pkg", modulePath("pkg/__init__.py"))
	assert.Equal(t, "pkg.sub.mod", modulePath("pkg/sub/mod.py"))
	assert.Equal(t, "single", modulePath("single.py"))
}

func TestReadMetadata(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "METADATA", strings.Join([]string{
		"Metadata-Version: 2.1",
		"Name: demo",
		"Version: 1.0",
		"Summary: a demo",
		"Requires-Dist: requests (>=2.0)",
		"Requires-Dist: pytest ; extra == 'test'",
		"Description: first line",
		"        continued",
		"",
		"Requires-Dist: not-a-header",
	}, "\n"))

	md, err := readMetadata(filepath.Join(dir, "METADATA"))
	require.NoError(t, err)
	assert.Equal(t, "demo", md.Name)
	assert.Equal(t, "1.0", md.Version)
	assert.Equal(t, []surface.Requirement{{Name: "requests", Constraint: ">=2.0"}}, md.Requirements)
	assert.True(t, md.declaresRequirements(filepath.Join(dir, "METADATA")))

	empty := &coreMetadata{}
	assert.True(t, empty.declaresRequirements("x/METADATA"))
	assert.False(t, empty.declaresRequirements("x/PKG-INFO"))
}

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
