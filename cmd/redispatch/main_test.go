package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/redispatch/internal/dispatch"
	"github.com/mattjoyce/redispatch/internal/events"
	"github.com/mattjoyce/redispatch/internal/inspect"
	"github.com/mattjoyce/redispatch/internal/journal"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func captureCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int {
		return runCLI(args)
	})
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// writeLadderConfig writes a config whose fetch unit times out on every attempt,
// climbing retry_twice, retry_once and finally log. parse fails with no rule.
func writeLadderConfig(t *testing.T, withJournal bool) (string, string) {
	t.Helper()
	dir := t.TempDir()
	journalPath := ""
	body := `service:
  name: ladder
  log_level: error
policy:
  rules:
    - {unit: fetch, failure: timeout, strategy: retry_twice}
    - {unit: retry_twice, failure: retry_escalation, strategy: retry_once}
    - {unit: retry_once, failure: retry_escalation, strategy: log}
units:
  - kind: fetch
    outcomes: [timeout, timeout, timeout]
  - kind: parse
    outcomes: [bad_input]
`
	if withJournal {
		journalPath = filepath.Join(dir, "journal.db")
		body += "journal:\n  path: " + journalPath + "\n"
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, journalPath
}

func TestVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-01-02T03:04:05+02:00")

	code, stdout, stderr := captureCLI(t, "version", "--json")
	require.Equal(t, 0, code, stderr)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T01:04:05Z", info.BuildTime)
}

func TestVersionRejectsArgs(t *testing.T) {
	code, _, stderr := captureCLI(t, "version", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: redispatch version")
}

func TestUnknownCommand(t *testing.T) {
	code, stdout, stderr := captureCLI(t, "launch")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: launch")
	assert.Contains(t, stdout, "Usage:")
}

func TestNoArgsPrintsUsage(t *testing.T) {
	code, stdout, _ := captureCLI(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "redispatch <command>")
}

func TestRunRequiresConfig(t *testing.T) {
	code, _, stderr := captureCLI(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--config is required")
}

func TestRunLadderJSON(t *testing.T) {
	cfgPath, _ := writeLadderConfig(t, false)

	code, stdout, stderr := captureCLI(t, "run", "--config", cfgPath, "--json", "--trace")
	require.Equal(t, 0, code, stderr)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "ladder", report.Service)
	assert.Empty(t, report.RunID)
	assert.True(t, strings.HasPrefix(report.Fingerprint, "blake3:"))

	// fetch climbs to the log unit; parse has no rule and is dropped.
	assert.Equal(t, dispatch.Stats{Executed: 5, Succeeded: 1, Failed: 4, Handled: 3, Dropped: 1}, report.Stats)
	assert.Equal(t, 1, report.Logged)

	types := make([]string, 0, len(report.Trail))
	for _, ev := range report.Trail {
		types = append(types, ev.Type)
	}
	assert.Equal(t, events.UnitFailed, types[0])
	assert.Equal(t, events.QueueDrained, types[len(types)-1])
	assert.Contains(t, types, events.FailureDropped)
}

func TestRunText(t *testing.T) {
	cfgPath, _ := writeLadderConfig(t, false)

	code, stdout, stderr := captureCLI(t, "run", "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "service: ladder")
	assert.Contains(t, stdout, "executed=5 succeeded=1 failed=4 handled=3 dropped=1 logged=1")
	assert.NotContains(t, stdout, "#1 ", "trail only printed with --trace")
}

func TestRunJournalsFailures(t *testing.T) {
	cfgPath, journalPath := writeLadderConfig(t, true)

	code, stdout, stderr := captureCLI(t, "run", "--config", cfgPath, "--json")
	require.Equal(t, 0, code, stderr)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.NotEmpty(t, report.RunID)
	assert.FileExists(t, journalPath)

	code, stdout, stderr = captureCLI(t, "journal", "--config", cfgPath, "--json")
	require.Equal(t, 0, code, stderr)
	var runs []journal.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, report.Stats, runs[0].Stats)
	assert.NotNil(t, runs[0].FinishedAt)

	code, stdout, stderr = captureCLI(t, "journal", "--config", cfgPath, "--run", report.RunID, "--json")
	require.Equal(t, 0, code, stderr)
	var inspected inspect.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &inspected))
	assert.Equal(t, "finished", inspected.Status)
	require.Len(t, inspected.Failures, 1)
	assert.Equal(t, 2, inspected.Failures[0].Depth)
	assert.Contains(t, inspected.Failures[0].Message, "fetch attempt 3 failed")

	code, stdout, stderr = captureCLI(t, "journal", "--config", cfgPath, "--run", report.RunID)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Run Report")

	code, _, stderr = captureCLI(t, "journal", "--config", cfgPath, "--run", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "run not found")
}

func TestRunLogsCarryRunID(t *testing.T) {
	cfgPath, _ := writeLadderConfig(t, true)
	raw, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, []byte(strings.Replace(string(raw), "log_level: error", "log_level: info", 1)), 0o644))

	code, stdout, stderr := captureCLI(t, "run", "--config", cfgPath, "--json")
	require.Equal(t, 0, code, stderr)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.NotEmpty(t, report.RunID)

	var drained map[string]any
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		var rec map[string]any
		if json.Unmarshal([]byte(line), &rec) == nil && rec["msg"] == "queue drained" {
			drained = rec
		}
	}
	require.NotNil(t, drained, stderr)
	assert.Equal(t, report.RunID, drained["run_id"])
	assert.Equal(t, "main", drained["component"])
}

func TestJournalWithoutPath(t *testing.T) {
	cfgPath, _ := writeLadderConfig(t, false)

	code, _, stderr := captureCLI(t, "journal", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "journal.path is not configured")
}

func TestCheck(t *testing.T) {
	cfgPath, _ := writeLadderConfig(t, false)

	code, stdout, stderr := captureCLI(t, "check", "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Configuration valid (1 warning(s))")
	assert.Contains(t, stdout, "parse/bad_input has no rule and no default")
	assert.Contains(t, stdout, "rules: 3")
	assert.Contains(t, stdout, "units: 2")
}

func TestCheckRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("units: []\n"), 0o644))

	code, _, stderr := captureCLI(t, "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Config check failed")
}

func TestConfigLockThenTamper(t *testing.T) {
	cfgPath, _ := writeLadderConfig(t, false)

	code, stdout, stderr := captureCLI(t, "config", "lock", "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Locked 1 file(s)")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfgPath), ".checksums"))

	code, _, stderr = captureCLI(t, "check", "--config", cfgPath)
	require.Equal(t, 0, code, stderr)

	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("# edited\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	code, _, stderr = captureCLI(t, "check", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "hash mismatch")
}

func TestConfigUnknownAction(t *testing.T) {
	code, _, stderr := captureCLI(t, "config", "show")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown config action: show")
}

func TestCheckReportsEscalationCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`policy:
  rules:
    - {unit: fetch, failure: timeout, strategy: retry_once}
    - {unit: retry_once, failure: retry_escalation, strategy: retry_once}
units:
  - kind: fetch
    outcomes: [timeout]
`), 0o644))

	code, stdout, _ := captureCLI(t, "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "Configuration invalid")
	assert.Contains(t, stdout, "retry_once -> retry_once")
}
