package pypi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/registries/fetch"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/surface"
)

const releaseJSON = `{
  "info": {
    "name": "Demo-Pkg",
    "version": "1.0",
    "summary": "demo",
    "project_urls": {"Changelog": "https://example.com/changes"},
    "requires_dist": [
      "requests (>=2.0)",
      "idna>=2.5,<4",
      "PySocks!=1.5.7; extra == 'socks'",
      "typing_extensions; python_version < '3.8'"
    ]
  },
  "urls": [
    {"filename": "demo_pkg-1.0-py3-none-any.whl", "url": "WHEEL", "packagetype": "bdist_wheel", "python_version": "py3"},
    {"filename": "demo-pkg-1.0.tar.gz", "url": "SDIST", "packagetype": "sdist", "python_version": "source"},
    {"filename": "demo-pkg-0.9.zip", "url": "OLD", "packagetype": "sdist", "yanked": true}
  ]
}`

const projectJSON = `{
  "info": {
    "name": "Demo-Pkg",
    "home_page": "",
    "project_urls": {
      "Source": "https://github.com/acme/demo",
      "Documentation": "https://demo.readthedocs.io/"
    }
  }
}`

func newTestClient(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/demo-pkg/1.0/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(releaseJSON))
	})
	mux.HandleFunc("/pypi/demo-pkg/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(projectJSON))
	})
	mux.HandleFunc("/files/demo-pkg-1.0.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive-bytes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(
		WithIndexURL(srv.URL+"/"),
		WithFetcher(fetch.NewFetcher(fetch.WithMaxRetries(0))),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestRelease(t *testing.T) {
	c, _ := newTestClient(t)

	rel, err := c.Release(context.Background(), "demo-pkg", "1.0")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(rel.Files) != 2 {
		t.Fatalf("got %d files, want 2 (yanked file dropped)", len(rel.Files))
	}
	if rel.ProjectURLs["Changelog"] != "https://example.com/changes" {
		t.Errorf("project urls = %v", rel.ProjectURLs)
	}

	f, err := c.SourceFile(context.Background(), "demo-pkg", "1.0")
	if err != nil {
		t.Fatalf("SourceFile: %v", err)
	}
	if f.URL != "SDIST" {
		t.Errorf("SourceFile picked %q, want the sdist", f.URL)
	}
}

func TestRelease_NotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Release(context.Background(), "demo-pkg", "9.9")
	var nf *apierr.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *apierr.NotFoundError", err)
	}
	if nf.Package != "demo-pkg" || nf.Version != "9.9" {
		t.Errorf("NotFoundError = %+v", nf)
	}
}

func TestPickSourceFile(t *testing.T) {
	tests := []struct {
		name  string
		files []File
		want  string
		ok    bool
	}{
		{"none", nil, "", false},
		{"sdist wins", []File{
			{Filename: "a-1.0-cp311-cp311-linux_x86_64.whl", URL: "native", PackageType: "bdist_wheel"},
			{Filename: "a-1.0.tar.gz", URL: "sdist", PackageType: "sdist"},
		}, "sdist", true},
		{"pure wheel over native", []File{
			{Filename: "a-1.0-cp311-cp311-linux_x86_64.whl", URL: "native", PackageType: "bdist_wheel"},
			{Filename: "a-1.0-py3-none-any.whl", URL: "pure", PackageType: "bdist_wheel"},
		}, "pure", true},
		{"native wheel only", []File{
			{Filename: "a-1.0-cp311-cp311-linux_x86_64.whl", URL: "native", PackageType: "bdist_wheel"},
		}, "native", true},
		{"egg ignored", []File{
			{Filename: "a-1.0.egg", URL: "egg", PackageType: "bdist_egg"},
		}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickSourceFile(tt.files)
			if ok != tt.ok || got.URL != tt.want {
				t.Errorf("pickSourceFile = (%q, %v), want (%q, %v)", got.URL, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDownload(t *testing.T) {
	c, srv := newTestClient(t)

	data, err := c.Download(context.Background(), File{Filename: "demo-pkg-1.0.tar.gz", URL: srv.URL + "/files/demo-pkg-1.0.tar.gz"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "archive-bytes" {
		t.Errorf("data = %q", data)
	}

	_, err = c.Download(context.Background(), File{Filename: "gone.tar.gz", URL: srv.URL + "/files/gone.tar.gz"})
	if apierr.ReasonOf(err) != apierr.ReasonNotFound {
		t.Errorf("missing file reason = %s (%v), want not_found", apierr.ReasonOf(err), err)
	}
}

func TestRequirements(t *testing.T) {
	c, _ := newTestClient(t)

	reqs, err := c.Requirements(context.Background(), "demo-pkg", "1.0")
	if err != nil {
		t.Fatalf("Requirements: %v", err)
	}
	want := []surface.Requirement{
		{Name: "idna", Constraint: ">=2.5,<4"},
		{Name: "requests", Constraint: ">=2.0"},
		{Name: "typing-extensions", Constraint: ""},
	}
	if len(reqs) != len(want) {
		t.Fatalf("Requirements = %+v, want %+v", reqs, want)
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Errorf("reqs[%d] = %+v, want %+v", i, reqs[i], want[i])
		}
	}
}

func TestProject(t *testing.T) {
	c, _ := newTestClient(t)

	p, err := c.Project(context.Background(), "demo-pkg")
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if p.Repository != "https://github.com/acme/demo" {
		t.Errorf("Repository = %q", p.Repository)
	}
	if p.Documentation != "https://demo.readthedocs.io/" {
		t.Errorf("Documentation = %q", p.Documentation)
	}
}

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		line string
		want surface.Requirement
		ok   bool
	}{
		{"requests", surface.Requirement{Name: "requests"}, true},
		{"Requests[socks] (>=2.0,<3)", surface.Requirement{Name: "requests", Constraint: ">=2.0,<3"}, true},
		{"zope.interface>=5", surface.Requirement{Name: "zope-interface", Constraint: ">=5"}, true},
		{"importlib_metadata; python_version < '3.8'", surface.Requirement{Name: "importlib-metadata"}, true},
		{"pytest; extra == 'test'", surface.Requirement{}, false},
		{"", surface.Requirement{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseRequirement(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseRequirement(%q) = (%+v, %v), want (%+v, %v)", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	for in, want := range map[string]string{
		"Django":             "django",
		"typing_extensions":  "typing-extensions",
		" zope.interface ":   "zope-interface",
		"already-normalized": "already-normalized",
	} {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
