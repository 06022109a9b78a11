package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// VersionRangeOptions holds the arguments of commands that take
// PACKAGE OLD NEW.
type VersionRangeOptions struct {
	Package    string
	OldVersion string
	NewVersion string
}

// ResourcesRunFunc handles the resources command.
type ResourcesRunFunc func(ctx context.Context, opts VersionRangeOptions) error

// NewResourcesCmd creates the "resources" subcommand.
func NewResourcesCmd(runFunc ResourcesRunFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "resources PACKAGE OLD NEW",
		Short: "Find migration guides and changelogs for an upgrade",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseVersionRange(args)
			if err != nil {
				return err
			}
			return runFunc(cmd.Context(), opts)
		},
	}
}

// ReportOptions holds the parsed flags and arguments for "report".
type ReportOptions struct {
	VersionRangeOptions
	Degraded      bool
	SkipResources bool
}

// ReportRunFunc handles the report command.
type ReportRunFunc func(ctx context.Context, opts ReportOptions) error

// NewReportCmd creates the "report" subcommand.
func NewReportCmd(runFunc ReportRunFunc) *cobra.Command {
	var opts ReportOptions

	cmd := &cobra.Command{
		Use:   "report PACKAGE OLD NEW",
		Short: "Compare two versions and attach migration resources",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseVersionRange(args)
			if err != nil {
				return err
			}
			opts.VersionRangeOptions = r
			return runFunc(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Degraded, "degraded", false, "Return a partial comparison when only one version can be extracted")
	cmd.Flags().BoolVar(&opts.SkipResources, "skip-resources", false, "Do not look for migration resources")

	return cmd
}

func parseVersionRange(args []string) (VersionRangeOptions, error) {
	opts := VersionRangeOptions{Package: args[0], OldVersion: args[1], NewVersion: args[2]}
	if err := validatePackageVersion(opts.Package, opts.OldVersion); err != nil {
		return opts, err
	}
	if err := validatePackageVersion(opts.Package, opts.NewVersion); err != nil {
		return opts, err
	}
	return opts, nil
}
