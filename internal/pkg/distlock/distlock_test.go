package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_ExclusiveUntilReleased(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "sync-run", time.Minute)
	b := NewRedisLock(client, "sync-run", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	// b must not be able to release a's lock
	if err := b.Release(ctx); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if !mr.Exists("lock:sync-run") {
		t.Fatal("lock released by non-owner")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = b.Acquire(ctx)
	if !ok {
		t.Fatal("lock should be free after release")
	}
}

func TestRedisLock_ExtendAfterLoss(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "sync-run", time.Second)
	if ok, _ := l.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if err := l.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.Extend(ctx, time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("extend after expiry = %v, want ErrLockHeld", err)
	}
}

func TestRun_ReturnsErrLockHeld(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	holder := NewRedisLock(client, "sync-run", time.Minute)
	holder.Acquire(ctx)

	called := false
	err := Run(ctx, NewRedisLock(client, "sync-run", time.Minute), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if called {
		t.Fatal("fn ran without the lock")
	}
}

func TestRun_ReleasesAfterError(t *testing.T) {
	mr, client := setupTestRedis(t)
	boom := errors.New("boom")

	err := Run(context.Background(), NewRedisLock(client, "sync-run", time.Minute), func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if mr.Exists("lock:sync-run") {
		t.Fatal("lock not released")
	}
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	id := LockID("sync-run")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := NewPGAdvisoryLock(db, "sync-run")
	ok, err := l.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
