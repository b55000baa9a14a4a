package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/llm"
	mysqlstore "ContractReview/internal/storage/mysql"
	"ContractReview/internal/storage/mysql/mysqltest"
)

var jobRowColumns = []string{"id", "model_id", "prompt", "temperature", "max_tokens", "status", "answer", "last_error", "error_code", "created_at", "updated_at"}

const getJobSQL = `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ?`

func jobRow(id string, status Status) []driver.Value {
	return []driver.Value{id, llm.MistralModelID, "2+2?", 0.2, int64(50), string(status), nil, nil, "", int64(1), int64(2)}
}

func newTestMySQLStore(t *testing.T, ops ...mysqltest.Operation) (*MySQLStore, *mysqltest.Driver) {
	t.Helper()
	db, drv := mysqltest.New(t, ops...)
	store := NewMySQLStoreWithDB(db)
	store.now = func() time.Time { return time.Unix(100, 0) }
	return store, drv
}

func TestMySQLStoreCreate(t *testing.T) {
	store, drv := newTestMySQLStore(t,
		mysqltest.Exec(insertJobSQL, mysqltest.Result{Affected: 1}),
		mysqltest.Exec(insertJobSQL, mysqltest.Result{}).WithError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)

	job := &Job{ID: "j1", Request: llm.Request{Prompt: "2+2?", Temperature: 0.2, MaxTokens: 50, ModelID: llm.MistralModelID}, Status: StatusPending}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if job.CreatedAt != 100 || job.UpdatedAt != 100 {
		t.Fatalf("timestamps not assigned: %+v", job)
	}
	args := drv.Args(0)
	if len(args) != 8 || args[0] != "j1" || args[1] != llm.MistralModelID || args[5] != "pending" {
		t.Fatalf("unexpected insert args: %v", args)
	}

	if err := store.Create(context.Background(), job); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict on duplicate key, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreClaim(t *testing.T) {
	t.Run("claims pending job", func(t *testing.T) {
		store, drv := newTestMySQLStore(t,
			mysqltest.Exec(claimJobSQL, mysqltest.Result{Affected: 1}),
			mysqltest.Query(getJobSQL, mysqltest.Rows{Columns: jobRowColumns, Values: [][]driver.Value{jobRow("j1", StatusRunning)}}),
		)
		job, err := store.Claim(context.Background(), "j1")
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		if job.Status != StatusRunning || job.Request.MaxTokens != 50 || job.Request.Prompt != "2+2?" {
			t.Fatalf("unexpected job: %+v", job)
		}
		if args := drv.Args(0); args[0] != "running" || args[3] != "pending" {
			t.Fatalf("unexpected claim args: %v", args)
		}
		drv.AssertConsumed(t)
	})

	t.Run("finished job is completed", func(t *testing.T) {
		store, drv := newTestMySQLStore(t,
			mysqltest.Exec(claimJobSQL, mysqltest.Result{Affected: 0}),
			mysqltest.Query(getJobSQL, mysqltest.Rows{Columns: jobRowColumns, Values: [][]driver.Value{jobRow("j1", StatusFailed)}}),
		)
		if _, err := store.Claim(context.Background(), "j1"); !errors.Is(err, ErrJobCompleted) {
			t.Fatalf("expected completed, got %v", err)
		}
		drv.AssertConsumed(t)
	})

	t.Run("missing job", func(t *testing.T) {
		store, drv := newTestMySQLStore(t,
			mysqltest.Exec(claimJobSQL, mysqltest.Result{Affected: 0}),
			mysqltest.Query(getJobSQL, mysqltest.Rows{Columns: jobRowColumns}),
		)
		if _, err := store.Claim(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		drv.AssertConsumed(t)
	})
}

func TestMySQLStoreMarkFailedAndSucceeded(t *testing.T) {
	store, drv := newTestMySQLStore(t,
		mysqltest.Exec(markFailedSQL, mysqltest.Result{Affected: 1}),
		mysqltest.Exec(markSucceededSQL, mysqltest.Result{Affected: 0}),
	)
	ctx := context.Background()

	if err := store.MarkFailed(ctx, "j1", llm.CodeEmptyResultSet, "response outputs list is empty"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if args := drv.Args(0); args[0] != "failed" || args[2] != "EMPTY_RESULT_SET" {
		t.Fatalf("unexpected args: %v", args)
	}
	if err := store.MarkSucceeded(ctx, "gone", "x"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreListAndStats(t *testing.T) {
	listSQL := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE status IN (?) AND model_id = ? ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ?`
	statsSQL := `SELECT status, COUNT(*) FROM generation_jobs GROUP BY status`

	store, drv := newTestMySQLStore(t,
		mysqltest.Query(listSQL, mysqltest.Rows{Columns: jobRowColumns, Values: [][]driver.Value{jobRow("j2", StatusFailed), jobRow("j1", StatusFailed)}}),
		mysqltest.Query(statsSQL, mysqltest.Rows{
			Columns: []string{"status", "count"},
			Values:  [][]driver.Value{{"failed", int64(2)}, {"succeeded", int64(5)}},
		}),
	)
	ctx := context.Background()

	jobs, err := store.List(ctx, ListOptions{Statuses: []Status{StatusFailed}, ModelID: llm.MistralModelID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "j2" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	if args := drv.Args(0); len(args) != 3 || args[2] != int64(defaultListLimit) {
		t.Fatalf("unexpected list args: %v", args)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 7 || stats.Failed != 2 || stats.Succeeded != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	drv.AssertConsumed(t)
}

func TestNewMySQLStoreRequiresDSN(t *testing.T) {
	if _, err := NewMySQLStore(context.Background(), mysqlstore.Config{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestMySQLStoreRelease(t *testing.T) {
	store, drv := newTestMySQLStore(t,
		mysqltest.Exec(releaseJobSQL, mysqltest.Result{Affected: 1}),
		mysqltest.Exec(releaseJobSQL, mysqltest.Result{Affected: 0}),
	)
	ctx := context.Background()

	if err := store.Release(ctx, "j1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if args := drv.Args(0); args[0] != "pending" || args[2] != "j1" || args[3] != "running" {
		t.Fatalf("unexpected release args: %v", args)
	}
	if err := store.Release(ctx, "j1"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("releasing a job that is not running should conflict, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreListOffset(t *testing.T) {
	listSQL := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE status IN (?) ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`
	store, drv := newTestMySQLStore(t,
		mysqltest.Query(listSQL, mysqltest.Rows{Columns: jobRowColumns}),
	)
	if _, err := store.List(context.Background(), ListOptions{Statuses: []Status{StatusPending}, Limit: 100, Offset: 200}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if args := drv.Args(0); len(args) != 3 || args[1] != int64(100) || args[2] != int64(200) {
		t.Fatalf("unexpected list args: %v", args)
	}
	drv.AssertConsumed(t)
}
