package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// CompareOptions holds the parsed flags and arguments for "compare".
type CompareOptions struct {
	Package    string
	OldVersion string
	NewVersion string

	// FromRepo reads the old version from the go.mod in this directory.
	FromRepo string
	Degraded bool
}

// CompareRunFunc handles the compare command. It is injected by the wiring
// layer (cmd/apidelta/main.go).
type CompareRunFunc func(ctx context.Context, opts CompareOptions) error

// NewCompareCmd creates the "compare" subcommand.
func NewCompareCmd(runFunc CompareRunFunc) *cobra.Command {
	var opts CompareOptions

	cmd := &cobra.Command{
		Use:   "compare PACKAGE OLD NEW",
		Short: "Classify the API changes between two versions",
		Long: "Compare the public API surfaces of two versions of a package.\n\n" +
			"With --from-repo, OLD is omitted and read from the go.mod of the given repository.",
		Args: cobra.RangeArgs(2, 3),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindCompareArgs(&opts, args); err != nil {
				return err
			}
			return validateCompareFlags(opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunc(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.FromRepo, "from-repo", "", "Read the current version from this Go repository")
	cmd.Flags().BoolVar(&opts.Degraded, "degraded", false, "Return a partial result when only one version can be extracted")

	return cmd
}

func bindCompareArgs(opts *CompareOptions, args []string) error {
	opts.Package = args[0]
	switch {
	case opts.FromRepo != "" && len(args) == 2:
		opts.NewVersion = args[1]
	case opts.FromRepo == "" && len(args) == 3:
		opts.OldVersion, opts.NewVersion = args[1], args[2]
	case opts.FromRepo != "":
		return fmt.Errorf("with --from-repo, expected PACKAGE NEW")
	default:
		return fmt.Errorf("expected PACKAGE OLD NEW")
	}
	return nil
}

func validateCompareFlags(opts CompareOptions) error {
	if err := validatePackageVersion(opts.Package, opts.NewVersion); err != nil {
		return err
	}
	if opts.FromRepo == "" {
		return validatePackageVersion(opts.Package, opts.OldVersion)
	}

	info, err := os.Stat(opts.FromRepo)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("repo path does not exist: %s", opts.FromRepo)
		}
		return fmt.Errorf("cannot access repo path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repo path is not a directory: %s", opts.FromRepo)
	}
	return nil
}

func validatePackageVersion(pkg, version string) error {
	if strings.TrimSpace(pkg) == "" {
		return fmt.Errorf("package name is required")
	}
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("version is required")
	}
	return nil
}
