package python

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emenda-labs/apidelta/pkg/pypi"
)

// installation is a package found in a site-packages directory.
type installation struct {
	SiteDir  string
	DistInfo string
	Version  string
}

// findInstallation looks for a dist-info directory of pkg in dirs. Only an
// exact version match counts.
func findInstallation(dirs []string, pkg, version string) (installation, bool) {
	want := pypi.NormalizeName(pkg)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasSuffix(e.Name(), ".dist-info") {
				continue
			}
			name, ver, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".dist-info"), "-")
			if !ok || pypi.NormalizeName(name) != want || ver != version {
				continue
			}
			return installation{
				SiteDir:  dir,
				DistInfo: filepath.Join(dir, e.Name()),
				Version:  ver,
			}, true
		}
	}
	return installation{}, false
}

// recordFiles lists the Python source files an installation owns, relative
// to its site directory.
func recordFiles(distInfo string) ([]string, error) {
	f, err := os.Open(filepath.Join(distInfo, "RECORD"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var files []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		path, _, _ := strings.Cut(sc.Text(), ",")
		path = strings.Trim(path, `"`)
		switch {
		case !strings.HasSuffix(path, ".py"),
			strings.HasPrefix(path, "../"),
			strings.Contains(path, ".dist-info/"),
			strings.Contains(path, "__pycache__/"):
			continue
		}
		if skipSourceFile(path) {
			continue
		}
		files = append(files, path)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading RECORD: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// importNames returns the top-level import names of an installation:
// top_level.txt when present, else the first path segment of its recorded
// files, else the normalized distribution name.
func importNames(distInfo, pkg string) []string {
	if data, err := os.ReadFile(filepath.Join(distInfo, "top_level.txt")); err == nil {
		var names []string
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "_") {
				names = append(names, line)
			}
		}
		if len(names) > 0 {
			return names
		}
	}

	if files, err := recordFiles(distInfo); err == nil {
		seen := make(map[string]bool)
		var names []string
		for _, f := range files {
			top, _, _ := strings.Cut(f, "/")
			top = strings.TrimSuffix(top, ".py")
			if !seen[top] {
				seen[top] = true
				names = append(names, top)
			}
		}
		if len(names) > 0 {
			return names
		}
	}
	return []string{strings.ReplaceAll(pypi.NormalizeName(pkg), "-", "_")}
}

var skippedDirs = map[string]bool{
	"tests":       true,
	"test":        true,
	"testing":     true,
	"docs":        true,
	"examples":    true,
	"benchmarks":  true,
	"__pycache__": true,
}

// skipSourceFile reports whether a relative .py path is outside the
// public surface: test files, private modules and test or private dirs.
func skipSourceFile(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, dir := range parts[:len(parts)-1] {
		if skippedDirs[dir] || strings.HasPrefix(dir, "_") || strings.HasPrefix(dir, ".") {
			return true
		}
	}
	base := parts[len(parts)-1]
	switch {
	case base == "__init__.py":
		return false
	case strings.HasPrefix(base, "_"),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, "_test.py"),
		base == "conftest.py",
		base == "setup.py":
		return true
	}
	return false
}

// discoverSources finds the package source of pkg under root. It returns
// the directory module paths are relative to and the .py files below it.
func discoverSources(root, pkg string) (string, []string, error) {
	dirs := []string{root, filepath.Join(root, "src")}
	// sdists unpack into a single "<name>-<version>/" directory.
	if entries, err := os.ReadDir(root); err == nil && len(entries) == 1 && entries[0].IsDir() {
		base := filepath.Join(root, entries[0].Name())
		dirs = append(dirs, base, filepath.Join(base, "src"))
	}

	normalized := pypi.NormalizeName(pkg)
	names := []string{pkg, strings.ReplaceAll(pkg, "-", "_"), strings.ReplaceAll(normalized, "-", "_")}

	for _, dir := range dirs {
		for _, name := range names {
			pkgDir := filepath.Join(dir, name)
			if info, err := os.Stat(pkgDir); err == nil && info.IsDir() {
				files, err := walkPackage(dir, pkgDir)
				if err != nil {
					return "", nil, err
				}
				if len(files) > 0 {
					return dir, files, nil
				}
			}
			if info, err := os.Stat(pkgDir + ".py"); err == nil && info.Mode().IsRegular() {
				return dir, []string{name + ".py"}, nil
			}
		}
	}
	return "", nil, fmt.Errorf("no python package named %s under %s", pkg, root)
}

func walkPackage(base, pkgDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(pkgDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if path != pkgDir && (skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".py") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !skipSourceFile(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", pkgDir, err)
	}
	sort.Strings(files)
	return files, nil
}

// modulePath turns "pkg/sub/__init__.py" into "pkg.sub" and
// "pkg/sub/mod.py" into "pkg.sub.mod".
func modulePath(rel string) string {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), ".py")
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}

// findMetadataFile returns the core metadata file of unpacked source:
// a wheel's "*.dist-info/METADATA" or an sdist's PKG-INFO, at most two
// levels below root.
func findMetadataFile(root string) (string, bool) {
	for _, pattern := range []string{"*.dist-info/METADATA", "PKG-INFO", "*/PKG-INFO"} {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err == nil && len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], true
		}
	}
	return "", false
}
