package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/praetorian-inc/kestrel/pkg/logger"
	"github.com/praetorian-inc/kestrel/pkg/rule"
	"github.com/praetorian-inc/kestrel/pkg/types"
	"github.com/spf13/cobra"
)

var (
	rulesPath    string
	rulesRuleset string
	outputFormat string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage detection rules",
	Long:  "Commands for listing and checking detection rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available rules",
	Long:  "Display all available detection rules with their IDs and messages",
	RunE:  runRulesList,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile rules and run their examples",
	Long: `Compile every rule with the configured effort limits, then run each rule's
examples and negative examples through the engine as TCP payloads. A rule must
alert on all of its examples and on none of its negative examples.`,
	RunE: runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "Path to custom rules file (default: builtin rules)")
	rulesCmd.PersistentFlags().StringVar(&rulesRuleset, "ruleset", "", "Builtin ruleset to select (ignored with --rules)")
	rulesListCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(rulesPath, rulesRuleset, "", "", "")
	if err != nil {
		return err
	}

	// Output based on format
	switch outputFormat {
	case "json":
		return outputRulesJSON(cmd, rules)
	case "table":
		return outputRulesTable(cmd, rules)
	default:
		return fmt.Errorf("unknown output format: %s", outputFormat)
	}
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(rulesPath, rulesRuleset, "", "", "")
	if err != nil {
		return err
	}

	failures, err := rule.CheckExamples(rules, cfg.Limits(), logger.Get())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, f := range failures {
		fmt.Fprintf(out, "FAIL %s\n", f)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d example failures in %d rules", len(failures), len(rules))
	}
	fmt.Fprintf(out, "%d rules OK\n", len(rules))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadRules loads a rules file, or the builtin rules narrowed to a
// ruleset, then filters and validates them.
func loadRules(path, ruleset, include, exclude, categories string) ([]*types.Rule, error) {
	loader := rule.NewLoader()

	var rules []*types.Rule
	var err error

	if path != "" {
		rules, err = loader.LoadRuleFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading rules from %s: %w", path, err)
		}
	} else {
		rules, err = loader.LoadBuiltinRules()
		if err != nil {
			return nil, fmt.Errorf("loading builtin rules: %w", err)
		}
		if ruleset != "" {
			rules, err = selectBuiltinRuleset(loader, rules, ruleset)
			if err != nil {
				return nil, err
			}
		}
	}

	// Apply filtering if patterns specified
	if include != "" || exclude != "" || categories != "" {
		config := rule.FilterConfig{
			Include:    rule.ParsePatterns(include),
			Exclude:    rule.ParsePatterns(exclude),
			Categories: rule.ParsePatterns(categories),
		}
		rules, err = rule.Filter(rules, config)
		if err != nil {
			return nil, fmt.Errorf("filtering rules: %w", err)
		}
	}

	for _, r := range rules {
		if err := rule.ValidateRule(r); err != nil {
			return nil, err
		}
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules selected")
	}
	return rules, nil
}

func selectBuiltinRuleset(loader *rule.Loader, rules []*types.Rule, id string) ([]*types.Rule, error) {
	rulesets, err := loader.LoadBuiltinRulesets()
	if err != nil {
		return nil, fmt.Errorf("loading builtin rulesets: %w", err)
	}
	var ids []string
	for _, rs := range rulesets {
		if rs.ID == id {
			return rule.SelectRuleset(rules, rs)
		}
		ids = append(ids, rs.ID)
	}
	return nil, fmt.Errorf("unknown ruleset %q (available: %s)", id, strings.Join(ids, ", "))
}

func outputRulesJSON(cmd *cobra.Command, rules []*types.Rule) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(rules)
}

func outputRulesTable(cmd *cobra.Command, rules []*types.Rule) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "ID\tMessage\tOptions\tCategories\n")
	fmt.Fprintf(w, "--\t-------\t-------\t----------\n")

	for _, r := range rules {
		categories := ""
		if len(r.Categories) > 0 {
			categories = r.Categories[0]
			if len(r.Categories) > 1 {
				categories += fmt.Sprintf(" (+%d)", len(r.Categories)-1)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.Msg, len(r.Options), categories)
	}

	return nil
}
