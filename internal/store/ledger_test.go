package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "log", "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	run, err := l.BeginRun(ctx, Run{Command: "run", ConfigFile: "/cfg/radolan.json", SourceDir: "/data", OutputDir: "/out"})
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if run.ID == "" || run.Status != StatusRunning {
		t.Fatalf("unexpected run: %+v", run)
	}

	steps := []Step{
		{RunID: run.ID, Scale: "25", Stage: "detect", Input: "a.nc", Output: "a-clusters.nc", Status: StatusSucceeded, DurationMs: 1200},
		{RunID: run.ID, Scale: "25", Stage: "detect", Input: "b.nc", Status: StatusSkipped},
		{RunID: run.ID, Scale: "25", Stage: "track", Input: "c.nc", ExitCode: 3, Status: StatusFailed, Message: "exit status 3"},
	}
	for _, s := range steps {
		if err := l.RecordStep(ctx, s); err != nil {
			t.Fatalf("RecordStep failed: %v", err)
		}
	}

	if err := l.FinishRun(ctx, run.ID, StatusFailed); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := l.Steps(ctx, run.ID)
	if err != nil {
		t.Fatalf("Steps failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(got))
	}
	if got[0].Output != "a-clusters.nc" || got[0].DurationMs != 1200 {
		t.Errorf("first step not round-tripped: %+v", got[0])
	}
	if got[2].ExitCode != 3 || got[2].Message != "exit status 3" {
		t.Errorf("failed step not round-tripped: %+v", got[2])
	}

	counts, err := l.Counts(ctx, run.ID)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts != (Counts{Total: 3, Succeeded: 1, Failed: 1, Skipped: 1}) {
		t.Errorf("unexpected counts: %+v", counts)
	}

	runs, err := l.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != StatusFailed || runs[0].FinishedAt.IsZero() {
		t.Errorf("run not finished: %+v", runs[0])
	}
	if runs[0].ConfigFile != "/cfg/radolan.json" {
		t.Errorf("config file = %q", runs[0].ConfigFile)
	}
}

func TestLedgerRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	var ids []string
	for _, cmd := range []string{"run", "visualise", "watch"} {
		r, err := l.BeginRun(ctx, Run{Command: cmd})
		if err != nil {
			t.Fatalf("BeginRun failed: %v", err)
		}
		ids = append(ids, r.ID)
	}

	runs, err := l.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit to apply, got %d runs", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("runs not newest first: %s, %s", runs[0].Command, runs[1].Command)
	}

	all, err := l.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected all 3 runs, got %d", len(all))
	}
}

func TestLedgerFinishUnknownRun(t *testing.T) {
	l := openTestLedger(t)
	if err := l.FinishRun(context.Background(), "nope", StatusSucceeded); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestLedgerConcurrentSteps(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	run, err := l.BeginRun(ctx, Run{Command: "run"})
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, scale := range []string{"10", "25", "50", "100"} {
		wg.Add(1)
		go func(scale string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if err := l.RecordStep(ctx, Step{RunID: run.ID, Scale: scale, Stage: "detect", Status: StatusSucceeded}); err != nil {
					t.Errorf("RecordStep failed: %v", err)
				}
			}
		}(scale)
	}
	wg.Wait()

	counts, err := l.Counts(ctx, run.ID)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Total != 20 || counts.Succeeded != 20 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestLedgerReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	run, err := l.BeginRun(ctx, Run{Command: "run"})
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	l.Close()

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l.Close()
	runs, err := l.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("run lost across reopen: %+v", runs)
	}
	if l.Path() != path {
		t.Errorf("Path() = %q", l.Path())
	}
}
