package environment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalRunsAllJobs(t *testing.T) {
	requireShell(t)

	env := NewLocal(2, testLogger())
	root := t.TempDir()

	scripts := []string{`exit 0`, `exit 3`, `sleep 5`, `exit 0`}

	var handles []Handle

	for i, script := range scripts {
		dir := filepath.Join(root, string(rune('a'+i)))
		job := Job{
			ID:     string(rune('a' + i)),
			RunDir: dir,
			Spec: Spec{
				ID:         string(rune('a' + i)),
				Executable: "/bin/sh",
				Args:       []string{"-c", script},
				Limits:     Limits{Time: 300 * time.Millisecond},
			},
		}

		h, err := env.Submit(context.Background(), job)
		if err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
		if h.JobID == "" || h.Backend != "local" {
			t.Errorf("handle = %+v", h)
		}

		handles = append(handles, h)
	}

	completions, err := env.Await(context.Background(), handles)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	want := []Status{StatusCompleted, StatusFailed, StatusResourceExceeded, StatusCompleted}
	for i, c := range completions {
		if c.Handle.RunID != handles[i].RunID {
			t.Errorf("completion %d belongs to %q", i, c.Handle.RunID)
		}
		if c.Status != want[i] {
			t.Errorf("completion %d status = %q, want %q", i, c.Status, want[i])
		}
	}
}

func TestLocalResolvesForeignHandles(t *testing.T) {
	requireShell(t)

	finished := writeRun(t, `exit 0`, Limits{})
	if _, err := Execute(context.Background(), testLogger(), finished); err != nil {
		t.Fatal(err)
	}

	orphan := writeRun(t, `exit 0`, Limits{})

	env := NewLocal(1, testLogger())
	completions, err := env.Await(context.Background(), []Handle{
		{RunID: "done", JobID: "old-1", RunDir: finished},
		{RunID: "orphan", JobID: "old-2", RunDir: orphan},
	})
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	if completions[0].Status != StatusCompleted {
		t.Errorf("finished status = %q, want completed", completions[0].Status)
	}
	if completions[1].Status != StatusFailed || completions[1].Reason != ReasonOrphaned {
		t.Errorf("orphan = %q/%q, want failed/orphaned", completions[1].Status, completions[1].Reason)
	}
}

func TestLocalAwaitCancelled(t *testing.T) {
	requireShell(t)

	env := NewLocal(1, testLogger())
	root := t.TempDir()

	var handles []Handle

	for _, name := range []string{"running", "queued"} {
		h, err := env.Submit(context.Background(), Job{
			ID:     name,
			RunDir: filepath.Join(root, name),
			Spec: Spec{
				ID:         name,
				Executable: "/bin/sh",
				Args:       []string{"-c", "sleep 5"},
				Limits:     Limits{Time: time.Minute},
			},
		})
		if err != nil {
			t.Fatalf("Submit(%s) failed: %v", name, err)
		}

		handles = append(handles, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()

	completions, err := env.Await(ctx, handles)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Await took %s after cancellation", elapsed)
	}

	for _, c := range completions {
		if c.Status != StatusCancelled {
			t.Errorf("%s status = %q, want cancelled", c.Handle.RunID, c.Status)
		}
	}
}

func TestLocalSubmitRequiresRunDir(t *testing.T) {
	env := NewLocal(1, testLogger())

	_, err := env.Submit(context.Background(), Job{ID: "x"})
	if err == nil {
		t.Fatal("expected error")
	}

	if _, ok := err.(*SubmissionError); !ok {
		t.Errorf("err = %T, want *SubmissionError", err)
	}
}
