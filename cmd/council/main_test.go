package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/council/internal/council"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell agents need a unix shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitInterrupted, exitCode(context.Canceled))
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, exitFailure, exitCode(fmt.Errorf("%w: agent missing", council.ErrStartupPrecondition)))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCLI(t, "", "version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "council version dev\n", out)
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := runCLI(t, "", "init", "--dir", dir)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Initialized")
	assert.FileExists(t, filepath.Join(dir, ".council", "config.yaml"))
	assert.DirExists(t, filepath.Join(dir, ".council", "constraints"))

	// idempotent
	code, _, errOut = runCLI(t, "", "init", "--dir", dir)
	assert.Equal(t, exitOK, code, errOut)
}

func TestConstraintsCommandIncludesPlugins(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, ".council", "constraints")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "ops.yaml"),
		[]byte("id: ops_on_call\nconstraint: Analyze ONLY what wakes people up at night.\n"), 0o644))

	code, out, errOut := runCLI(t, "", "constraints", "--dir", dir)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "urgency_musk")
	assert.Contains(t, out, "ops_on_call")
	assert.Contains(t, out, "ops.yaml")
	assert.Contains(t, out, "Analyze ONLY what wakes people up at night.")

	code, out, _ = runCLI(t, "", "constraints", "--dir", dir, "crash_armstrong")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Let it crash")

	code, _, errOut = runCLI(t, "", "constraints", "--dir", dir, "missing")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "missing")
}

func TestRunRequiresTask(t *testing.T) {
	code, _, errOut := runCLI(t, "", "--dir", t.TempDir())
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "a task is required")
}

func TestRunMissingAgentIsPrecondition(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := runCLI(t, "", "--dir", dir, "--agent", filepath.Join(dir, "no-such-agent"), "review", "this")
	assert.Equal(t, exitFailure, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "precondition")
}

func TestRunRejectsInvalidMembers(t *testing.T) {
	code, _, errOut := runCLI(t, "", "--dir", t.TempDir(), "-n", "0", "task")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "member")
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	agent := writeScript(t, dir, "agent.sh", `case "$2" in
*tests_beck*) echo "beck says no"; exit 1 ;;
esac
echo "analysis done"
`)
	code, out, errOut := runCLI(t, "",
		"run", "--dir", dir, "--agent", agent,
		"-n", "2", "--mandatory", "urgency_musk,tests_beck",
		"--no-synthesize", "--all", "--format", "markdown", "--save",
		"Review", "the", "cache")
	require.Equal(t, exitOK, code, errOut)

	assert.Contains(t, out, "# Council report")
	assert.Contains(t, out, "Review the cache")
	assert.Contains(t, out, "## Member #1: URGENCY_MUSK")
	assert.Contains(t, out, "analysis done")
	assert.Contains(t, out, "## Member #2: TESTS_BECK")
	assert.Contains(t, out, "beck says no")

	assert.Contains(t, errOut, "COUNCIL")
	assert.Contains(t, errOut, "Member #2 (tests_beck) failed")
	assert.Contains(t, errOut, "Report saved to")

	code, listing, errOut := runCLI(t, "", "reports", "--dir", dir)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, listing, "Review the cache")

	journal, err := os.ReadFile(filepath.Join(dir, ".council", "logs", "journal.log"))
	require.NoError(t, err)
	assert.Contains(t, string(journal), "1 completed · 1 failed · 0 timed out")
}

func TestRunReadsTaskFromStdin(t *testing.T) {
	dir := t.TempDir()
	agent := writeScript(t, dir, "agent.sh", "echo ok\n")
	code, out, errOut := runCLI(t, "  Plan the migration \n",
		"--dir", dir, "--agent", agent, "-n", "1", "--mandatory", "urgency_musk",
		"--no-synthesize", "--format", "text", "--events-addr", "127.0.0.1:0", "-")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Plan the migration")
	assert.Contains(t, errOut, "Streaming events on http://127.0.0.1:")
}

func TestRunRejectsBadEventsAddress(t *testing.T) {
	code, _, errOut := runCLI(t, "", "--dir", t.TempDir(), "--events-addr", "nowhere", "task")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "--events-addr")
}

func TestRunSingleMemberWithBuiltinMandatory(t *testing.T) {
	dir := t.TempDir()
	agent := writeScript(t, dir, "agent.sh", "echo solo\n")
	code, out, errOut := runCLI(t, "",
		"--dir", dir, "--agent", agent, "-n", "1", "--no-synthesize", "--all", "--format", "text", "task")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "THE_GOAL_GOLDRATT")
	assert.Contains(t, out, "solo")
}
