package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransientSQLiteErr_Classified(t *testing.T) {
	transient := []error{
		errors.New("SQLITE_BUSY"),
		errors.New("SQLITE_LOCKED"),
		errors.New("IOERR_SHORT_READ"),
		errors.New("database is locked"),
		errors.New("database table is locked"),
		fmt.Errorf("publish a: %w", errors.New("sqlite: (5) busy")),
		errors.New("sqlite: (6) table locked"),
		errors.New("sqlite: (522) short read during WAL checkpoint"),
	}
	for _, err := range transient {
		if !isTransientSQLiteErr(err) {
			t.Errorf("isTransientSQLiteErr(%v) = false, want true", err)
		}
	}

	permanent := []error{
		nil,
		errors.New("no such table: instances"),
		fmt.Errorf("%w: 64 slots", ErrTableFull),
	}
	for _, err := range permanent {
		if isTransientSQLiteErr(err) {
			t.Errorf("isTransientSQLiteErr(%v) = true, want false", err)
		}
	}
}

func TestRetryOp_FirstTryWins(t *testing.T) {
	calls := 0
	err := retryOp(defaultRetryConfig, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retryOp: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
}

func TestRetryOp_PermanentErrorReturnsAtOnce(t *testing.T) {
	boom := errors.New("no such table: instances")
	calls := 0
	err := retryOp(defaultRetryConfig, func() error {
		calls++
		return boom
	})
	if err != boom {
		t.Fatalf("got %v, want the original error", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error should not retry: got %d calls, want 1", calls)
	}
}

func TestRetryOp_TransientErrorRetriesUntilSuccess(t *testing.T) {
	cfg := retryConfig{maxRetries: 4, baseDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}
	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryOp: %v", err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestRetryOp_GivesUpAfterBudget(t *testing.T) {
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}
	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil {
		t.Fatal("want the last error after the budget runs out")
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3 (first try plus two retries)", calls)
	}
}

func TestRetryOp_ZeroBudgetMeansSingleAttempt(t *testing.T) {
	cfg := retryConfig{maxRetries: 0, baseDelay: time.Millisecond, maxDelay: time.Millisecond}
	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		return errors.New("SQLITE_LOCKED")
	})
	if err == nil {
		t.Fatal("want error with no retries")
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
}

func TestBackoffDelay_GrowsThenCaps(t *testing.T) {
	cfg := retryConfig{baseDelay: 10 * time.Millisecond, maxDelay: 30 * time.Millisecond}
	floors := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		30 * time.Millisecond,
	}
	for attempt, floor := range floors {
		d := backoffDelay(cfg, attempt)
		if d < floor || d >= floor+cfg.baseDelay {
			t.Errorf("attempt %d: delay %v not in [%v, %v)", attempt, d, floor, floor+cfg.baseDelay)
		}
	}
}
