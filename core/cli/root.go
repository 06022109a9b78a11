package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// GlobalOptions holds the persistent flags shared by every subcommand.
type GlobalOptions struct {
	ConfigPath string
	Ecosystem  string
	Format     string
	Verbose    bool
	Stats      bool
}

// NewRootCmd creates the top-level apidelta command. Persistent flags are
// parsed into global, which the wiring layer reads before running a
// subcommand.
func NewRootCmd(version string, global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apidelta",
		Short: "Public API change analyzer for package upgrades",
		Long: "apidelta extracts the public API surface of published package versions, " +
			"classifies the changes between two versions and finds migration resources.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateGlobalFlags(*global)
		},
	}

	cmd.Version = version

	flags := cmd.PersistentFlags()
	flags.StringVar(&global.ConfigPath, "config", "", "Path to the YAML config file")
	flags.StringVar(&global.Ecosystem, "ecosystem", "", "Package ecosystem: pypi or golang (overrides config)")
	flags.StringVarP(&global.Format, "output", "o", FormatText, "Output format: text or json")
	flags.BoolVarP(&global.Verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&global.Stats, "stats", false, "Print cache statistics to stderr when done")

	return cmd
}

func validateGlobalFlags(g GlobalOptions) error {
	switch g.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("--output must be %q or %q, got %q", FormatText, FormatJSON, g.Format)
	}
	switch g.Ecosystem {
	case "", "pypi", "golang":
	default:
		return fmt.Errorf("--ecosystem must be pypi or golang, got %q", g.Ecosystem)
	}
	return nil
}
