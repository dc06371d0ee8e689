package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/praetorian-inc/kestrel/pkg/capture"
	"github.com/praetorian-inc/kestrel/pkg/detect"
	"github.com/praetorian-inc/kestrel/pkg/logger"
	"github.com/praetorian-inc/kestrel/pkg/metrics"
	"github.com/praetorian-inc/kestrel/pkg/store"
	"github.com/praetorian-inc/kestrel/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	scanRulesPath     string
	scanRuleset       string
	scanRulesInclude  string
	scanRulesExclude  string
	scanRulesCategory string
	scanOutputPath    string
	scanOutputFormat  string
	scanColor         string
	scanWorkers       int
	scanIncremental   bool
	scanMetricsAddr   string
	scanStopOnFirst   bool
	scanNoNormalized  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <capture>",
	Short: "Scan a packet capture with detection rules",
	Long:  "Run detection rules against every packet of a pcap or pcapng file and report the alerts",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRulesPath, "rules", "", "Path to custom rules file (default: builtin rules)")
	scanCmd.Flags().StringVar(&scanRuleset, "ruleset", "", "Builtin ruleset to run (ignored with --rules)")
	scanCmd.Flags().StringVar(&scanRulesInclude, "rules-include", "", "Include rules matching regex pattern (comma-separated)")
	scanCmd.Flags().StringVar(&scanRulesExclude, "rules-exclude", "", "Exclude rules matching regex pattern (comma-separated)")
	scanCmd.Flags().StringVar(&scanRulesCategory, "category", "", "Only run rules in these categories (comma-separated)")
	scanCmd.Flags().StringVar(&scanOutputPath, "output", "", "Output database path (default: config store, else in-memory)")
	scanCmd.Flags().StringVar(&scanOutputFormat, "format", "human", "Output format: json, sarif, human")
	scanCmd.Flags().StringVar(&scanColor, "color", "auto", "Color output: auto, always, never")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", 0, "Number of inspection workers (default: config workers)")
	scanCmd.Flags().BoolVar(&scanIncremental, "incremental", false, "Skip captures already recorded in the output database")
	scanCmd.Flags().StringVar(&scanMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the scan")
	scanCmd.Flags().BoolVar(&scanStopOnFirst, "stop-on-first", false, "Stop inspecting a packet after its first alert")
	scanCmd.Flags().BoolVar(&scanNoNormalized, "no-normalized", false, "Match against the raw payload only")
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	// Validate target exists
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("target does not exist: %s", target)
	}

	rules, err := loadRules(scanRulesPath, scanRuleset, scanRulesInclude, scanRulesExclude, scanRulesCategory)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logger.With("capture", target)
	m := metrics.New()
	if addr := firstNonEmpty(scanMetricsAddr, cfg.Metrics.Addr); addr != "" {
		go func() {
			if err := m.Serve(ctx, addr); err != nil {
				logger.ErrorContext(ctx, "metrics server failed", "addr", addr, "error", err)
			}
		}()
	}

	opts := cfg.EngineOptions()
	opts.Metrics = m
	opts.Logger = log
	if scanStopOnFirst {
		opts.StopOnFirstAlert = true
	}
	eng := detect.NewEngine(opts)
	defer eng.Close()
	if err := eng.Reload(rules); err != nil {
		return fmt.Errorf("compiling rules: %w", err)
	}

	storePath := firstNonEmpty(scanOutputPath, cfg.Store, ":memory:")
	s, err := store.New(store.Config{Path: storePath})
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer s.Close()

	status := cmd.OutOrStdout()
	if scanOutputFormat == "json" || scanOutputFormat == "sarif" {
		// keep stdout pure JSON
		status = cmd.ErrOrStderr()
	}

	if scanIncremental {
		exists, err := s.CaptureExists(target)
		if err != nil {
			return fmt.Errorf("checking capture: %w", err)
		}
		if exists {
			fmt.Fprintf(status, "Skipping %s: already scanned into %s\n", target, storePath)
			return nil
		}
	}

	for _, r := range rules {
		if err := s.AddRule(r); err != nil {
			return fmt.Errorf("storing rule: %w", err)
		}
	}

	workers := cfg.Workers
	if scanWorkers > 0 {
		workers = scanWorkers
	}
	packets, alerts, err := scanCapture(ctx, eng, target, workers, cfg.Detect.UseNormalized && !scanNoNormalized)
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}

	for _, a := range alerts {
		if err := s.AddAlert(a); err != nil {
			return fmt.Errorf("storing alert: %w", err)
		}
	}
	if err := s.AddCapture(target, packets); err != nil {
		return fmt.Errorf("storing capture: %w", err)
	}

	fmt.Fprintf(status, "Scan complete: %d packets, %d alerts\n", packets, len(alerts))
	if storePath != ":memory:" {
		fmt.Fprintf(status, "Results stored in: %s\n", storePath)
	}

	stored, err := s.GetAlerts()
	if err != nil {
		return fmt.Errorf("retrieving alerts: %w", err)
	}
	return writeAlerts(cmd.OutOrStdout(), scanOutputFormat, scanColor, rules, stored)
}

// =============================================================================
// HELPERS
// =============================================================================

// scanCapture fans the packets of path out to workers. It returns the number
// of packets read and every alert, tagged with path.
func scanCapture(ctx context.Context, eng *detect.Engine, path string, workers int, useNormalized bool) (int, []*types.Alert, error) {
	r, err := capture.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer r.Close()

	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	pkts := make(chan *detect.Packet, workers*4)

	var packets int
	g.Go(func() error {
		defer close(pkts)
		for {
			pkt, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			pkt.UseNormalized = useNormalized
			packets++
			select {
			case pkts <- pkt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	var (
		mu     sync.Mutex
		alerts []*types.Alert
	)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			w := eng.NewWorker()
			defer w.Close()
			for pkt := range pkts {
				found, err := w.Inspect(pkt)
				if err != nil {
					return fmt.Errorf("packet %d: %w", pkt.Index, err)
				}
				if len(found) == 0 {
					continue
				}
				mu.Lock()
				for j := range found {
					a := found[j]
					a.Capture = path
					alerts = append(alerts, &a)
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return packets, nil, err
	}
	return packets, alerts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
