package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MIRADOR_SENTRY_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("MIRADOR_SENTRY_CONFIG", "")

	path := filepath.Join(dir, "sentry.yaml")
	body := "storage:\n" +
		"  driver: sqlite\n" +
		"  path: " + filepath.Join(dir, "sentry.db") + "\n" +
		"rules:\n" +
		"  path: " + filepath.Join(dir, "no-rules.yaml") + "\n" +
		"postmortem:\n" +
		"  exportDir: " + filepath.Join(dir, "postmortems") + "\n" +
		"logging:\n" +
		"  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	defer func() { Version, GitCommit = oldVersion, oldCommit }()

	Version = "1.2.3"
	GitCommit = "abcdef"
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sentry-engine 1.2.3")
	assert.Contains(t, out, "Commit: abcdef")

	GitCommit = "unknown"
	out, err = runCmd(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, out, "Commit:")
}

func TestIngestLogsThenDetect(t *testing.T) {
	cfgPath := writeTestConfig(t)
	logPath := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte(strings.Join([]string{
		"2024-05-01T10:00:00Z ERROR checkout request_id=r1 db timeout",
		"",
		"2024-05-01T10:00:05Z INFO checkout latency_ms=120ms served",
	}, "\n")), 0o644))

	out, err := runCmd(t, "--config", cfgPath, "ingest-logs", logPath)
	require.NoError(t, err)
	var report struct {
		Ingested int `json:"ingested"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Ingested)

	out, err = runCmd(t, "--config", cfgPath, "detect")
	require.NoError(t, err)
	var refresh struct {
		Incidents []any `json:"incidents"`
		Skipped   int   `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &refresh))
	assert.Empty(t, refresh.Incidents)

	out, err = runCmd(t, "--config", cfgPath, "detect", "checkout", "latency_p95")
	require.NoError(t, err)
	assert.Contains(t, out, `"anomalous": false`)
}

func TestDetectRejectsSingleArgument(t *testing.T) {
	_, err := runCmd(t, "detect", "checkout")
	require.Error(t, err)
}

func TestIngestLogsMissingFile(t *testing.T) {
	cfgPath := writeTestConfig(t)
	_, err := runCmd(t, "--config", cfgPath, "ingest-logs", filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
}
