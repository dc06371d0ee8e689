package main

import (
	"fmt"
	"runtime"

	"github.com/praetorian-inc/kestrel/pkg/engine"
	"github.com/praetorian-inc/kestrel/pkg/sarif"
	"github.com/spf13/cobra"
)

var (
	version = sarif.ToolVersion
	commit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display the version of Kestrel and the regex engine it was built with",
	RunE:  runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Kestrel v%s\n", version)
	fmt.Fprintf(out, "Commit: %s\n", commit)
	fmt.Fprintf(out, "Prefilter engine: %s\n", engine.Name())
	fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
