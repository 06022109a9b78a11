package analyzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/cache"
	"github.com/emenda-labs/apidelta/core/changespec"
	"github.com/emenda-labs/apidelta/core/driver"
	"github.com/emenda-labs/apidelta/core/surface"
)

// fakeDriver serves fixed surfaces per version through the static path.
type fakeDriver struct {
	elements map[string][]surface.APIElement
	errs     map[string]error
	slow     map[string]bool // block until the lookup context ends
	gate     chan struct{}   // when set, every parse waits for it

	parses int64
}

func (d *fakeDriver) Ecosystem() string { return "fake" }

func (d *fakeDriver) ResolveArtifact(ctx context.Context, pkg, version string) (driver.Artifact, error) {
	return driver.Artifact{Package: pkg, Version: version, FreshnessToken: version}, nil
}

func (d *fakeDriver) FetchSource(ctx context.Context, a driver.Artifact) (driver.Source, error) {
	if d.slow[a.Version] {
		<-ctx.Done()
		return driver.Source{}, ctx.Err()
	}
	if err := d.errs[a.Version]; err != nil {
		return driver.Source{}, err
	}
	return driver.Source{Root: "/"}, nil
}

func (d *fakeDriver) InspectLive(ctx context.Context, a driver.Artifact) (*surface.APISurface, error) {
	return nil, driver.ErrLiveUnavailable
}

func (d *fakeDriver) ParseSource(ctx context.Context, a driver.Artifact, src driver.Source) (*surface.APISurface, error) {
	atomic.AddInt64(&d.parses, 1)
	if d.gate != nil {
		<-d.gate
	}
	b := surface.NewBuilder(a.Package, a.Version, surface.StrategyStatic)
	for _, e := range d.elements[a.Version] {
		if err := b.Add(e); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

type fakeFinder struct {
	delay time.Duration
	err   error
	calls int64
}

func (f *fakeFinder) FindMigrationResources(ctx context.Context, pkg, oldVersion, newVersion string) (*changespec.MigrationResources, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &changespec.MigrationResources{
		PackageName:  pkg,
		VersionRange: oldVersion + " -> " + newVersion,
		Changelogs:   []string{"https://example.org/changelog"},
	}, nil
}

func fn(name string, params ...string) surface.APIElement {
	var ps []surface.Param
	for _, p := range params {
		ps = append(ps, surface.Param{Name: p, Kind: surface.ParamPositionalOrKeyword})
	}
	return surface.APIElement{Name: name, Kind: surface.KindFunction, DefinedIn: "pkg", Signature: surface.Signature{Params: ps}}
}

func twoVersions() *fakeDriver {
	return &fakeDriver{
		elements: map[string][]surface.APIElement{
			"1.0": {fn("foo", "a", "b"), fn("keep", "x")},
			"2.0": {fn("keep", "x"), fn("newfn")},
		},
		errs: map[string]error{},
		slow: map[string]bool{},
	}
}

func TestExtractAPISurface(t *testing.T) {
	d := twoVersions()
	a := New(d)
	defer a.Close()

	s, err := a.ExtractAPISurface(context.Background(), "pkg", "1.0")
	require.NoError(t, err)
	assert.Equal(t, surface.StrategyStatic, s.Strategy)
	assert.Len(t, s.Functions, 2)
}

func TestExtractAPISurface_SingleFlight(t *testing.T) {
	d := twoVersions()
	d.gate = make(chan struct{})
	a := New(d)
	defer a.Close()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = a.ExtractAPISurface(context.Background(), "pkg", "1.0")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int64(1), atomic.LoadInt64(&d.parses))
}

func TestCompareVersions(t *testing.T) {
	a := New(twoVersions())
	defer a.Close()

	vc, err := a.CompareVersions(context.Background(), "pkg", "1.0", "2.0", CompareOptions{})
	require.NoError(t, err)

	require.Len(t, vc.Breaking, 1)
	assert.Equal(t, "pkg.foo", vc.Breaking[0].ElementName)
	assert.Equal(t, changespec.ChangeKindRemoved, vc.Breaking[0].ChangeKind)
	require.Len(t, vc.Additions, 1)
	assert.Equal(t, "pkg.newfn", vc.Additions[0].ElementName)
	assert.False(t, vc.Partial)
	assert.Equal(t, surface.StrategyStatic, vc.OldStrategy)
}

func TestCompareVersions_OneSideFails(t *testing.T) {
	d := twoVersions()
	d.errs["2.0"] = &apierr.NotFoundError{Package: "pkg", Version: "2.0"}
	a := New(d)
	defer a.Close()

	_, err := a.CompareVersions(context.Background(), "pkg", "1.0", "2.0", CompareOptions{})
	var ce *apierr.ComparisonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, apierr.ReasonNotFound, ce.Reason)
	assert.Contains(t, ce.PartialReason, "pkg@2.0")

	vc, err := a.CompareVersions(context.Background(), "pkg", "1.0", "2.0", CompareOptions{Degraded: true})
	require.NoError(t, err)
	assert.True(t, vc.Degraded)
	assert.True(t, vc.Partial)
	assert.Contains(t, vc.PartialReason, "not_found")
	assert.True(t, vc.Empty())
	assert.Equal(t, surface.StrategyStatic, vc.OldStrategy)
	assert.Empty(t, vc.NewStrategy)
}

func TestCompareVersions_BothFail(t *testing.T) {
	d := twoVersions()
	d.errs["1.0"] = errors.New("boom")
	d.errs["2.0"] = errors.New("boom")
	a := New(d)
	defer a.Close()

	_, err := a.CompareVersions(context.Background(), "pkg", "1.0", "2.0", CompareOptions{Degraded: true})
	var ce *apierr.ComparisonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "both surfaces unavailable", ce.PartialReason)
}

func TestCompareVersions_TimeoutDoesNotCancelSibling(t *testing.T) {
	d := twoVersions()
	d.slow["1.0"] = true
	a := New(d,
		WithLookupTimeout(50*time.Millisecond),
		WithCache(cache.New(cache.WithComputeTimeout(200*time.Millisecond))),
	)
	defer a.Close()

	vc, err := a.CompareVersions(context.Background(), "pkg", "1.0", "2.0", CompareOptions{Degraded: true})
	require.NoError(t, err)
	assert.True(t, vc.Degraded)
	assert.Contains(t, vc.PartialReason, "timeout")
	assert.Equal(t, surface.StrategyStatic, vc.NewStrategy)
	assert.Equal(t, int64(1), atomic.LoadInt64(&d.parses))
}

func TestCompareVersions_CallerCancelled(t *testing.T) {
	d := twoVersions()
	d.slow["1.0"] = true
	d.slow["2.0"] = true
	a := New(d, WithCache(cache.New(cache.WithComputeTimeout(200*time.Millisecond))))
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := a.CompareVersions(ctx, "pkg", "1.0", "2.0", CompareOptions{})
	var ce *apierr.ComparisonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, apierr.ReasonCanceled, ce.Reason)
}

func TestFindMigrationResources(t *testing.T) {
	f := &fakeFinder{}
	a := New(twoVersions(), WithResourceFinder(f))
	defer a.Close()

	res, err := a.FindMigrationResources(context.Background(), "pkg", "1.0", "2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0 -> 2.0", res.VersionRange)

	f.err = errors.New("rate limited")
	_, err = a.FindMigrationResources(context.Background(), "pkg", "1.0", "2.0")
	var rde *apierr.ResourceDiscoveryError
	require.ErrorAs(t, err, &rde)
	assert.Equal(t, int64(2), atomic.LoadInt64(&f.calls), "discovery is not retried or cached")
}

func TestFindMigrationResources_NoFinder(t *testing.T) {
	a := New(twoVersions())
	defer a.Close()

	_, err := a.FindMigrationResources(context.Background(), "pkg", "1.0", "2.0")
	var rde *apierr.ResourceDiscoveryError
	require.ErrorAs(t, err, &rde)
}

func TestReport(t *testing.T) {
	tests := []struct {
		name          string
		finder        *fakeFinder
		wantResources bool
		wantNote      string
	}{
		{name: "merged", finder: &fakeFinder{}, wantResources: true},
		{name: "timeout", finder: &fakeFinder{delay: time.Second}, wantNote: "migration resources omitted (timeout)"},
		{name: "failure", finder: &fakeFinder{err: errors.New("boom")}, wantNote: "migration resources omitted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(twoVersions(), WithResourceFinder(tt.finder), WithResourceTimeout(30*time.Millisecond))
			defer a.Close()

			r, err := a.Report(context.Background(), "pkg", "1.0", "2.0", ReportOptions{})
			require.NoError(t, err)
			assert.NotEmpty(t, r.ID)
			require.NotNil(t, r.Comparison)
			assert.Len(t, r.Comparison.Breaking, 1)
			if tt.wantResources {
				require.NotNil(t, r.Resources)
			} else {
				assert.Nil(t, r.Resources)
				require.Len(t, r.Notes, 1)
				assert.Contains(t, r.Notes[0], tt.wantNote)
			}
		})
	}
}

func TestReport_ComparisonFailureFailsReport(t *testing.T) {
	d := twoVersions()
	d.errs["1.0"] = &apierr.NotFoundError{Package: "pkg", Version: "1.0"}
	finder := &fakeFinder{}
	a := New(d, WithResourceFinder(finder))
	defer a.Close()

	r, err := a.Report(context.Background(), "pkg", "1.0", "2.0", ReportOptions{})
	assert.Nil(t, r)
	var ce *apierr.ComparisonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, apierr.ReasonNotFound, apierr.ReasonOf(err))
	assert.Equal(t, int64(1), atomic.LoadInt64(&finder.calls), "discovery runs alongside the comparison")
}

func TestReport_SkipResources(t *testing.T) {
	finder := &fakeFinder{}
	a := New(twoVersions(), WithResourceFinder(finder))
	defer a.Close()

	r, err := a.Report(context.Background(), "pkg", "1.0", "2.0", ReportOptions{SkipResources: true})
	require.NoError(t, err)
	assert.Nil(t, r.Resources)
	assert.Equal(t, int64(0), atomic.LoadInt64(&finder.calls))
}
