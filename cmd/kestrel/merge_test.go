package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/praetorian-inc/kestrel/pkg/store"
	"github.com/praetorian-inc/kestrel/pkg/types"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMergeCmd creates a fresh merge command for testing
func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <source1.db> <source2.db> [source3.db...]",
		Short: "Merge multiple Kestrel alert databases",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runMerge,
	}
	cmd.Flags().StringVarP(&mergeOutput, "output", "o", "merged.db", "Output database path")
	return cmd
}

// writeAlertDB creates a database holding one capture and its alerts.
func writeAlertDB(t *testing.T, path, capture string, alerts ...*types.Alert) {
	t.Helper()
	s, err := store.NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.AddCapture(capture, 10))
	for _, a := range alerts {
		a.Capture = capture
		require.NoError(t, s.AddAlert(a))
	}
}

func TestMergeCmd_RequiresMinimumArgs(t *testing.T) {
	// Test with no args - the Args validator should reject
	cmd := newMergeCmd()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 2 arg")

	// Test with one arg
	cmd = newMergeCmd()
	cmd.SetArgs([]string{"source1.db"})
	err = cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 2 arg")
}

func TestMergeCmd_MergesTwoDatabases(t *testing.T) {
	tmpDir := t.TempDir()

	source1Path := filepath.Join(tmpDir, "source1.db")
	writeAlertDB(t, source1Path, "/caps/a.pcap", &types.Alert{RuleID: "rule1", Msg: "one", Packet: 1, Offset: -1})
	source2Path := filepath.Join(tmpDir, "source2.db")
	writeAlertDB(t, source2Path, "/caps/b.pcap", &types.Alert{RuleID: "rule2", Msg: "two", Packet: 3, Offset: -1})

	// Run merge command
	destPath := filepath.Join(tmpDir, "merged.db")
	var buf bytes.Buffer
	cmd := newMergeCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{source1Path, source2Path, "--output", destPath})

	err := cmd.Execute()
	require.NoError(t, err)

	// Verify output
	output := buf.String()
	assert.Contains(t, output, "Merge complete")
	assert.Contains(t, output, "Sources processed: 2")
	assert.Contains(t, output, "Captures merged: 2")
	assert.Contains(t, output, "Alerts merged: 2")

	// Verify merged database
	dest, err := store.NewSQLite(destPath)
	require.NoError(t, err)
	defer dest.Close()

	alerts, err := dest.GetAlerts()
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "rule1", alerts[0].RuleID)
	assert.Equal(t, "rule2", alerts[1].RuleID)
}

func TestMergeCmd_ReportsDeduplication(t *testing.T) {
	tmpDir := t.TempDir()

	// Two sensors saw the same packet of the same capture
	source1Path := filepath.Join(tmpDir, "source1.db")
	writeAlertDB(t, source1Path, "/caps/a.pcap", &types.Alert{RuleID: "rule1", Msg: "one", Packet: 1, Offset: -1})
	source2Path := filepath.Join(tmpDir, "source2.db")
	writeAlertDB(t, source2Path, "/caps/a.pcap", &types.Alert{RuleID: "rule1", Msg: "one", Packet: 1, Offset: -1})

	destPath := filepath.Join(tmpDir, "merged.db")
	var buf bytes.Buffer
	cmd := newMergeCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{source1Path, source2Path, "--output", destPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Captures merged: 1")
	assert.Contains(t, output, "Alerts merged: 1")
}

func TestMergeCmd_FailsWithInvalidSource(t *testing.T) {
	tmpDir := t.TempDir()

	// Run merge command with non-existent source
	destPath := filepath.Join(tmpDir, "merged.db")
	cmd := newMergeCmd()
	cmd.SetArgs([]string{"/nonexistent/source1.db", "/nonexistent/source2.db", "--output", destPath})

	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "merge failed")
}
