package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/changespec"
)

// ReportOptions controls Report.
type ReportOptions struct {
	CompareOptions

	// SkipResources leaves resource discovery out entirely.
	SkipResources bool
}

// Report runs a comparison and resource discovery side by side. Resources
// are merged only if discovery succeeds within the resource timeout;
// otherwise they are omitted and a note says why. Only the comparison can
// fail the report.
func (a *Analyzer) Report(ctx context.Context, pkg, oldVersion, newVersion string, opts ReportOptions) (*changespec.MigrationReport, error) {
	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "analyzer.Report",
		trace.WithAttributes(
			attribute.String("report_id", id),
			attribute.String("package", pkg),
			attribute.String("old_version", oldVersion),
			attribute.String("new_version", newVersion),
		),
	)
	defer span.End()

	var (
		g           errgroup.Group
		comparison  *changespec.VersionComparison
		resources   *changespec.MigrationResources
		resourceErr error
	)
	g.Go(func() error {
		var err error
		comparison, err = a.CompareVersions(ctx, pkg, oldVersion, newVersion, opts.CompareOptions)
		return err
	})
	// Discovery failures only omit resources, so they never reach Wait.
	if !opts.SkipResources {
		g.Go(func() error {
			resources, resourceErr = a.findResources(ctx, pkg, oldVersion, newVersion)
			return nil
		})
	}

	if compareErr := g.Wait(); compareErr != nil {
		span.RecordError(compareErr)
		span.SetStatus(codes.Error, compareErr.Error())
		return nil, compareErr
	}

	report := &changespec.MigrationReport{
		ID:         id,
		Comparison: comparison,
		Resources:  resources,
	}
	if comparison.Degraded {
		report.Notes = append(report.Notes, "comparison is degraded: "+comparison.PartialReason)
	} else if comparison.Partial {
		report.Notes = append(report.Notes, "absence of change is not proven: "+comparison.PartialReason)
	}
	if resourceErr != nil {
		report.Notes = append(report.Notes, fmt.Sprintf("migration resources omitted (%s)", apierr.ReasonOf(resourceErr)))
		a.logger.Warn("migration resources omitted",
			slog.String("report_id", id),
			slog.String("package", pkg),
			slog.String("error", resourceErr.Error()),
		)
	}

	span.SetAttributes(attribute.Bool("resources", report.Resources != nil))
	return report, nil
}
