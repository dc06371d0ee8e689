package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/praetorian-inc/kestrel/pkg/logger"
	"github.com/praetorian-inc/kestrel/pkg/scanner"
	"github.com/praetorian-inc/kestrel/pkg/serve"
	"github.com/spf13/cobra"
)

var serveRulesPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a streaming inspection server",
	Long: `Run Kestrel as a long-lived streaming server that accepts inspect requests
via stdin and writes alerts to stdout using NDJSON format.

The process compiles rules once at startup and processes requests until
stdin closes or SIGTERM is received. A "reload" request swaps in a new rule
set without dropping requests.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveRulesPath, "rules", "", "Path to custom rules file (default: builtin rules)")
	rootCmd.AddCommand(serveCmd)
}

// debugLogger routes scanner core diagnostics to the debug log.
type debugLogger struct{}

func (debugLogger) Log(format string, args ...interface{}) {
	logger.Debug("scanner core", "msg", fmt.Sprintf(format, args...))
}

func runServe(cmd *cobra.Command, args []string) error {
	rulesYAML := "builtin"
	if serveRulesPath != "" {
		data, err := os.ReadFile(serveRulesPath)
		if err != nil {
			return err
		}
		rulesYAML = string(data)
	}

	core, err := scanner.NewCore(rulesYAML, debugLogger{})
	if err != nil {
		return err
	}
	defer core.Close()

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigChan
		cancel()
	}()

	// Create and run server
	srv := serve.NewServer(core, cmd.InOrStdin(), cmd.OutOrStdout())
	return srv.Run(ctx)
}
