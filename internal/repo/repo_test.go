package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"shipline/internal/db"
	"shipline/internal/domain"
	"shipline/internal/events"
	"shipline/internal/migrate"
	"shipline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func inTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func testRun() domain.Run {
	return domain.Run{
		ID: "run-1", PRDTitle: "Checker", PRDLevel: "feature", Workspace: "/tmp/ws",
		Status: domain.RunPending, CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z",
	}
}

func testEpics() []domain.Epic {
	return []domain.Epic{{
		ID: "E1", Title: "Core", Description: "core work", Status: domain.StatusTodo,
		Priority: domain.PriorityHigh, CreatedAt: "2026-01-01T00:00:00Z",
		Stories: []domain.Story{{
			ID: "S1", Title: "Scoring", Description: "scoring", EpicID: "E1",
			Status: domain.StatusTodo, CreatedAt: "2026-01-01T00:00:00Z",
			Tasks: []domain.Task{{
				ID: "T1", Title: "Length check", Description: "check length",
				SuccessMetrics: []string{"tests pass"}, Status: domain.StatusTodo,
				Priority: domain.PriorityMedium, StoryID: "S1",
				CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z",
			}},
		}},
	}}
}

func TestRunLifecycle(t *testing.T) {
	r, ctx := newTestRepo(t)
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertRun(ctx, tx, testRun()) })
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateRunStatus(ctx, tx, "run-1", domain.RunFailed, "2 of 3 tasks failed")
	})
	run, err := r.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunFailed || run.Error != "2 of 3 tasks failed" {
		t.Fatalf("unexpected run %+v", run)
	}
	runs, err := r.ListRuns(ctx)
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: %v %d", err, len(runs))
	}
	if _, err := r.GetRun(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTicketsRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertRun(ctx, tx, testRun()) })
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertTickets(ctx, tx, "run-1", testEpics()) })

	task, err := r.GetTask(ctx, "T1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Title != "Length check" || len(task.SuccessMetrics) != 1 {
		t.Fatalf("unexpected task %+v", task)
	}

	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.UpdateTaskStatus(ctx, tx, "T1", domain.StatusInProgress)
	})
	task, _ = r.GetTask(ctx, "T1")
	if task.Status != domain.StatusInProgress {
		t.Fatalf("status %q", task.Status)
	}

	tx, _ := r.DB.BeginTx(ctx, nil)
	defer tx.Rollback()
	if err := r.UpdateTaskStatus(ctx, tx, "T1", "in_review"); err == nil {
		t.Fatal("unknown status must be rejected")
	}

	tasks, err := r.ListTasks(ctx, "run-1")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list tasks: %v %d", err, len(tasks))
	}
}

func TestPRUpsert(t *testing.T) {
	r, ctx := newTestRepo(t)
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertRun(ctx, tx, testRun()) })
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertTickets(ctx, tx, "run-1", testEpics()) })

	pr := domain.PullRequest{
		ID: "PR-T1", Title: "Implement Length check", TaskID: "T1",
		BranchName: "feature/t1", FilesChanged: []string{"a.py"},
		Status: domain.PROpen, CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z",
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.UpsertPR(ctx, tx, "run-1", pr) })

	pr.Status = domain.PRApproved
	pr.ReviewComments = []domain.ReviewComment{{FilePath: "a.py", Comment: "nice", Severity: "info"}}
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.UpsertPR(ctx, tx, "run-1", pr) })

	got, err := r.GetPR(ctx, "PR-T1")
	if err != nil {
		t.Fatalf("get pr: %v", err)
	}
	if got.Status != domain.PRApproved || len(got.ReviewComments) != 1 {
		t.Fatalf("upsert did not update: %+v", got)
	}
	prs, err := r.ListPRs(ctx, "run-1")
	if err != nil || len(prs) != 1 {
		t.Fatalf("list prs: %v %d", err, len(prs))
	}
}

func TestEventLog(t *testing.T) {
	r, ctx := newTestRepo(t)
	inTx(t, r, ctx, func(tx *sql.Tx) error { return r.InsertRun(ctx, tx, testRun()) })

	w := events.Writer{DB: r.DB}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := w.Append(ctx, tx, "run.created", "run-1", "run", "run-1", "cli", nil); err != nil {
			return err
		}
		return w.Append(ctx, tx, "task.updated", "run-1", "task", "T1", "worker", events.EventPayload{"status": "in_progress"})
	})

	evts, err := r.ListEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("got %d events", len(evts))
	}
	// newest first
	if evts[0].Type != "task.updated" || evts[0].Agent != "worker" {
		t.Fatalf("unexpected first event %+v", evts[0])
	}
}
