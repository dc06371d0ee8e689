package main

import (
	"os"

	"github.com/praetorian-inc/kestrel/pkg/config"
	"github.com/praetorian-inc/kestrel/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	verbose    bool
	quiet      bool

	// cfg is the loaded configuration, set before any subcommand runs.
	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Kestrel - signature matching for network captures",
	Long: `Kestrel runs content and pcre detection rules against packet captures.
Rules combine literal content matches with Perl-compatible regular expressions
bound to the raw payload, a normalized payload, or a protocol buffer such as
the HTTP URI or headers.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to engine config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the config file and configures logging from it and the
// global flags.
func setup(cmd *cobra.Command, args []string) error {
	cfg = config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := cfg.Log.Level
	switch {
	case logLevel != "":
		level = logLevel
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	logger.Configure(os.Stderr, level, cfg.Log.Format)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
