package main

import (
	"fmt"
	"os"

	"github.com/praetorian-inc/kestrel/pkg/rule"
	"github.com/praetorian-inc/kestrel/pkg/store"
	"github.com/praetorian-inc/kestrel/pkg/types"
	"github.com/spf13/cobra"
)

var (
	reportDatastore string
	reportFormat    string
	reportColor     string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a report from stored alerts",
	Long:  "Read alerts from a database written by scan --output and print them",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDatastore, "datastore", "kestrel.db", "Path to alert database")
	reportCmd.Flags().StringVar(&reportFormat, "format", "human", "Output format: human, json, sarif")
	reportCmd.Flags().StringVar(&reportColor, "color", "auto", "Color output: auto, always, never")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportDatastore == ":memory:" {
		return fmt.Errorf("cannot report from in-memory store")
	}
	if _, err := os.Stat(reportDatastore); err != nil {
		return fmt.Errorf("datastore not found: %s", reportDatastore)
	}

	s, err := store.New(store.Config{Path: reportDatastore})
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer s.Close()

	alerts, err := s.GetAlerts()
	if err != nil {
		return fmt.Errorf("retrieving alerts: %w", err)
	}

	var rules []*types.Rule
	if reportFormat == "sarif" {
		rules, err = reportRules(alerts)
		if err != nil {
			return err
		}
	}
	return writeAlerts(cmd.OutOrStdout(), reportFormat, reportColor, rules, alerts)
}

// reportRules returns the builtin rules that fired in alerts. Alerts from
// custom rules carry their message and need no rule entry.
func reportRules(alerts []*types.Alert) ([]*types.Rule, error) {
	builtin, err := rule.NewLoader().LoadBuiltinRules()
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	fired := make(map[string]bool)
	for _, a := range alerts {
		fired[a.RuleID] = true
	}
	var rules []*types.Rule
	for _, r := range builtin {
		if fired[r.ID] {
			rules = append(rules, r)
		}
	}
	return rules, nil
}
