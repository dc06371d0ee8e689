package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/praetorian-inc/kestrel/pkg/sarif"
	"github.com/praetorian-inc/kestrel/pkg/types"
	"golang.org/x/term"
)

// styles holds color formatters for human output
type styles struct {
	alertHeading *color.Color
	ruleID       *color.Color
	heading      *color.Color
	cursor       *color.Color
	metadata     *color.Color
}

// newStyles creates color formatters for alert output
// enabled=false respects --color=never and the NO_COLOR env var
func newStyles(enabled bool) *styles {
	s := &styles{
		alertHeading: color.New(color.Bold, color.FgHiWhite),
		ruleID:       color.New(color.FgHiGreen),
		heading:      color.New(color.Bold),
		cursor:       color.New(color.FgYellow),
		metadata:     color.New(color.FgHiBlue),
	}

	if !enabled {
		s.alertHeading.DisableColor()
		s.ruleID.DisableColor()
		s.heading.DisableColor()
		s.cursor.DisableColor()
		s.metadata.DisableColor()
	}

	return s
}

// colorEnabled resolves a --color flag value.
func colorEnabled(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default: // "auto"
		return term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	}
}

// jsonAlert is the JSON form of an alert.
type jsonAlert struct {
	Key       string `json:"key"`
	RuleID    string `json:"rule_id"`
	Msg       string `json:"msg"`
	Capture   string `json:"capture,omitempty"`
	Packet    int    `json:"packet"`
	Timestamp string `json:"timestamp,omitempty"`
	Flow      string `json:"flow,omitempty"`
	Offset    int    `json:"offset"`
	Chain     int    `json:"chain,omitempty"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

func toJSONAlert(a *types.Alert) jsonAlert {
	ja := jsonAlert{
		Key:     a.Key(),
		RuleID:  a.RuleID,
		Msg:     a.Msg,
		Capture: a.Capture,
		Packet:  a.Packet,
		Flow:    a.Flow,
		Offset:  a.Offset,
		Chain:   a.Chain,
		Before:  string(a.Snippet.Before),
		After:   string(a.Snippet.After),
	}
	if !a.Timestamp.IsZero() {
		ja.Timestamp = a.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return ja
}

func outputAlertsJSON(w io.Writer, alerts []*types.Alert) error {
	out := make([]jsonAlert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toJSONAlert(a))
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// outputSARIF writes alerts in SARIF 2.1.0 format
func outputSARIF(w io.Writer, rules []*types.Rule, alerts []*types.Alert) error {
	report := sarif.NewReport()
	for _, r := range rules {
		report.AddRule(r)
	}
	for _, a := range alerts {
		report.AddResult(a)
	}

	jsonBytes, err := report.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing SARIF: %w", err)
	}
	if _, err := w.Write(jsonBytes); err != nil {
		return fmt.Errorf("writing SARIF output: %w", err)
	}
	return nil
}

func outputAlertsHuman(w io.Writer, alerts []*types.Alert, s *styles) error {
	if len(alerts) == 0 {
		fmt.Fprintf(w, "\nNo alerts.\n")
		return nil
	}

	total := len(alerts)
	for i, a := range alerts {
		fmt.Fprintf(w, "%s (%s %s)\n",
			s.alertHeading.Sprintf("Alert %d/%d", i+1, total),
			s.heading.Sprint("rule"),
			s.ruleID.Sprint(a.RuleID))
		fmt.Fprintf(w, "%s %s\n", s.heading.Sprint("Message:"), a.Msg)

		where := fmt.Sprintf("packet %d", a.Packet)
		if a.Capture != "" {
			where = a.Capture + " " + where
		}
		fmt.Fprintf(w, "%s %s\n", s.heading.Sprint("Packet:"), s.metadata.Sprint(where))
		if a.Flow != "" {
			fmt.Fprintf(w, "%s %s\n", s.heading.Sprint("Flow:"), s.metadata.Sprint(a.Flow))
		}
		if !a.Timestamp.IsZero() {
			fmt.Fprintf(w, "%s %s\n", s.heading.Sprint("Time:"), a.Timestamp.UTC().Format(time.RFC3339Nano))
		}
		if a.Offset >= 0 {
			if a.Chain > 1 {
				fmt.Fprintf(w, "%s %d (chain %d)\n", s.heading.Sprint("Offset:"), a.Offset, a.Chain)
			} else {
				fmt.Fprintf(w, "%s %d\n", s.heading.Sprint("Offset:"), a.Offset)
			}
			fmt.Fprintf(w, "    %s%s%s\n",
				printable(a.Snippet.Before),
				s.cursor.Sprint("|"),
				printable(a.Snippet.After))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// printable renders payload bytes on one line, escaping control and
// non-ASCII bytes.
func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 0x20 || c >= 0x7f:
			sb.WriteString(`\x`)
			sb.WriteString(strconv.FormatUint(uint64(c)|0x100, 16)[1:])
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// writeAlerts renders alerts in the named format.
func writeAlerts(w io.Writer, format, colorMode string, rules []*types.Rule, alerts []*types.Alert) error {
	switch format {
	case "json":
		return outputAlertsJSON(w, alerts)
	case "sarif":
		return outputSARIF(w, rules, alerts)
	case "human":
		return outputAlertsHuman(w, alerts, newStyles(colorEnabled(colorMode)))
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
