package environment

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireShell(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func writeRun(t *testing.T, script string, limits Limits) string {
	t.Helper()

	dir := t.TempDir()
	spec := Spec{
		ID:         "rev-cfg/dom:p01.pddl",
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
		Limits:     limits,
	}

	if err := WriteSpec(dir, spec); err != nil {
		t.Fatalf("WriteSpec failed: %v", err)
	}

	return dir
}

func TestExecuteCompleted(t *testing.T) {
	requireShell(t)

	dir := writeRun(t, `echo "Solution found!"; echo warn >&2`, Limits{Time: 10 * time.Second})

	out, err := Execute(context.Background(), testLogger(), dir)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if out.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", out.Status)
	}
	if out.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", out.ExitCode)
	}

	stdout, _ := os.ReadFile(filepath.Join(dir, StdoutFile))
	if !strings.Contains(string(stdout), "Solution found!") {
		t.Errorf("stdout = %q", stdout)
	}

	stderr, _ := os.ReadFile(filepath.Join(dir, StderrFile))
	if strings.TrimSpace(string(stderr)) != "warn" {
		t.Errorf("stderr = %q", stderr)
	}

	saved, err := ReadOutcome(dir)
	if err != nil {
		t.Fatalf("ReadOutcome failed: %v", err)
	}
	if saved.Status != StatusCompleted {
		t.Errorf("saved status = %q", saved.Status)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	requireShell(t)

	dir := writeRun(t, `exit 12`, Limits{})

	out, err := Execute(context.Background(), testLogger(), dir)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if out.Status != StatusFailed {
		t.Errorf("status = %q, want failed", out.Status)
	}
	if out.ExitCode != 12 {
		t.Errorf("exit code = %d, want 12", out.ExitCode)
	}
}

func TestExecuteTimeLimit(t *testing.T) {
	requireShell(t)

	dir := writeRun(t, `sleep 5`, Limits{Time: 200 * time.Millisecond})

	start := time.Now()

	out, err := Execute(context.Background(), testLogger(), dir)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("run was not stopped at the limit, took %s", elapsed)
	}
	if out.Status != StatusResourceExceeded {
		t.Errorf("status = %q, want resource-exceeded", out.Status)
	}
	if out.Reason != ReasonTime {
		t.Errorf("reason = %q, want time", out.Reason)
	}
}

func TestExecuteCancelled(t *testing.T) {
	requireShell(t)

	dir := writeRun(t, `sleep 5`, Limits{Time: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	out, err := Execute(ctx, testLogger(), dir)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if out.Status != StatusCancelled {
		t.Errorf("status = %q, want cancelled", out.Status)
	}
}

func TestExecuteMissingExecutable(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{ID: "x", Executable: filepath.Join(dir, "does-not-exist")}

	if err := WriteSpec(dir, spec); err != nil {
		t.Fatal(err)
	}

	out, err := Execute(context.Background(), testLogger(), dir)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if out.Status != StatusFailed {
		t.Errorf("status = %q, want failed", out.Status)
	}
	if out.Message == "" {
		t.Error("expected a failure message")
	}
}

func TestExecuteMissingSpec(t *testing.T) {
	if _, err := Execute(context.Background(), testLogger(), t.TempDir()); err == nil {
		t.Error("expected error for a run dir without run.json")
	}
}
