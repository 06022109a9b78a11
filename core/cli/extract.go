package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// ExtractOptions holds the parsed arguments for "extract".
type ExtractOptions struct {
	Package string
	Version string
}

// ExtractRunFunc handles the extract command. It is injected by the wiring
// layer (cmd/apidelta/main.go).
type ExtractRunFunc func(ctx context.Context, opts ExtractOptions) error

// NewExtractCmd creates the "extract" subcommand.
func NewExtractCmd(runFunc ExtractRunFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "extract PACKAGE VERSION",
		Short: "Print the public API surface of a package version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ExtractOptions{Package: args[0], Version: args[1]}
			if err := validatePackageVersion(opts.Package, opts.Version); err != nil {
				return err
			}
			return runFunc(cmd.Context(), opts)
		},
	}
}
