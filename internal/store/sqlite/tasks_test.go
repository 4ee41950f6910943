package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"presale_sniper/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTask(saleID string, fireAt time.Time) model.Task {
	return model.Task{
		SaleID:     saleID,
		Kind:       model.KindPresaleReserve,
		AccountIDs: []string{"acc-1"},
		SaleStart:  fireAt.Add(10 * time.Second),
		FireAt:     fireAt,
	}
}

func TestInsertTaskDeduplicatesActiveSale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, err := s.InsertTask(ctx, newTask("X", now))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if first.ID == "" || first.State != model.TaskNew {
		t.Fatalf("first = %+v", first)
	}
	if _, err := s.InsertTask(ctx, newTask("X", now)); !errors.Is(err, model.ErrDuplicateTask) {
		t.Fatalf("second InsertTask err = %v, want ErrDuplicateTask", err)
	}
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}

	if err := s.SetState(ctx, first.ID, model.TaskFinished, ""); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	again, err := s.InsertTask(ctx, newTask("X", now))
	if err != nil {
		t.Fatalf("InsertTask after finish: %v", err)
	}
	latest, err := s.GetTaskBySale(ctx, "X")
	if err != nil {
		t.Fatalf("GetTaskBySale: %v", err)
	}
	if latest.ID != again.ID {
		t.Errorf("GetTaskBySale = %s, want newest %s", latest.ID, again.ID)
	}
}

func TestClaimDueRespectsFireTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fireAt := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	task, err := s.InsertTask(ctx, newTask("sale-d", fireAt))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if !task.FireAt.Equal(fireAt) {
		t.Fatalf("FireAt = %v, want %v", task.FireAt, fireAt)
	}

	got, err := s.ClaimDue(ctx, fireAt.Add(-time.Millisecond))
	if err != nil || got != nil {
		t.Fatalf("ClaimDue before fire time = %v, %v, want nil", got, err)
	}
	got, err = s.ClaimDue(ctx, fireAt)
	if err != nil || got == nil {
		t.Fatalf("ClaimDue at fire time = %v, %v", got, err)
	}
	if got.ID != task.ID || got.State != model.TaskInProgress || got.Attempts != 1 {
		t.Errorf("claimed = %+v", got)
	}
	if len(got.AccountIDs) != 1 || got.AccountIDs[0] != "acc-1" {
		t.Errorf("claimed AccountIDs = %v", got.AccountIDs)
	}
	if again, _ := s.ClaimDue(ctx, fireAt.Add(time.Hour)); again != nil {
		t.Errorf("in-progress task claimed twice: %+v", again)
	}
}

func TestSubMillisecondFireTimeIsNotDueEarly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fireAt := time.Now().Add(time.Hour).Truncate(time.Millisecond).Add(900 * time.Microsecond)

	task, err := s.InsertTask(ctx, newTask("sale-us", fireAt))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if task.FireAt.Before(fireAt) {
		t.Fatalf("FireAt = %v, earlier than requested %v", task.FireAt, fireAt)
	}
	if got, err := s.ClaimDue(ctx, fireAt.Add(-800*time.Microsecond)); err != nil || got != nil {
		t.Fatalf("ClaimDue 0.8ms early = %v, %v, want nil", got, err)
	}
	if got, err := s.ClaimDue(ctx, fireAt.Add(100*time.Microsecond)); err != nil || got == nil {
		t.Fatalf("ClaimDue after fire time = %v, %v", got, err)
	}

	if err := s.MarkRetried(ctx, task.ID, fireAt.Add(time.Second), "retry"); err != nil {
		t.Fatalf("MarkRetried: %v", err)
	}
	if got, _ := s.ClaimDue(ctx, fireAt.Add(time.Second-800*time.Microsecond)); got != nil {
		t.Errorf("retried task claimed 0.8ms early")
	}
}

func TestFireMillisRoundsUp(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	cases := []struct {
		in   time.Time
		want int64
	}{
		{base, 1_700_000_000_000},
		{base.Add(time.Nanosecond), 1_700_000_000_001},
		{base.Add(999 * time.Microsecond), 1_700_000_000_001},
		{base.Add(-time.Nanosecond), 1_700_000_000_000},
	}
	for _, c := range cases {
		if got := fireMillis(c.in); got != c.want {
			t.Errorf("fireMillis(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestClaimDueIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	for _, sale := range []string{"a", "b", "c"} {
		if _, err := s.InsertTask(ctx, newTask(sale, past)); err != nil {
			t.Fatalf("InsertTask(%s): %v", sale, err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := s.ClaimDue(ctx, time.Now())
				if err != nil {
					t.Errorf("ClaimDue: %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				claimed[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 3 {
		t.Fatalf("claimed %d tasks, want 3", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("task %s claimed %d times", id, n)
		}
	}
}

func TestRetriedTaskIsClaimableAgain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	task, err := s.InsertTask(ctx, newTask("r", now.Add(-time.Second)))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if _, err := s.ClaimDue(ctx, now); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	retryAt := now.Add(5 * time.Second)
	if err := s.MarkRetried(ctx, task.ID, retryAt, "vendor down"); err != nil {
		t.Fatalf("MarkRetried: %v", err)
	}
	if got, _ := s.ClaimDue(ctx, now); got != nil {
		t.Fatalf("retried task claimed before retry time")
	}
	got, err := s.ClaimDue(ctx, retryAt)
	if err != nil || got == nil {
		t.Fatalf("ClaimDue after retry time = %v, %v", got, err)
	}
	if got.Attempts != 2 || got.LastError != "vendor down" {
		t.Errorf("claimed = %+v", got)
	}
}

func TestPendingMutationsCheckState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	pending, err := s.InsertTask(ctx, newTask("p", now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	pending.AccountIDs = []string{"acc-2", "acc-3"}
	pending.FireAt = now.Add(2 * time.Hour)
	if err := s.UpdatePendingTask(ctx, pending); err != nil {
		t.Fatalf("UpdatePendingTask: %v", err)
	}
	got, _ := s.GetTask(ctx, pending.ID)
	if len(got.AccountIDs) != 2 || got.FireAt.Before(pending.FireAt) || got.FireAt.Sub(pending.FireAt) >= time.Millisecond {
		t.Errorf("updated = %+v", got)
	}

	running, err := s.InsertTask(ctx, newTask("q", now.Add(-time.Second)))
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if _, err := s.ClaimDue(ctx, now); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if err := s.UpdatePendingTask(ctx, running); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("UpdatePendingTask(running) err = %v, want ErrInvalidState", err)
	}
	if err := s.CancelPendingTask(ctx, running.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("CancelPendingTask(running) err = %v, want ErrInvalidState", err)
	}
	if err := s.DeleteTask(ctx, running.ID); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("DeleteTask(running) err = %v, want ErrInvalidState", err)
	}
	if err := s.CancelPendingTask(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("CancelPendingTask(missing) err = %v, want ErrNotFound", err)
	}

	if err := s.CancelPendingTask(ctx, pending.ID); err != nil {
		t.Fatalf("CancelPendingTask: %v", err)
	}
	if _, err := s.GetTask(ctx, pending.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetTask after cancel err = %v, want ErrNotFound", err)
	}

	if err := s.SetState(ctx, running.ID, model.TaskFailed, "boom"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.DeleteTask(ctx, running.ID); err != nil {
		t.Errorf("DeleteTask(failed) err = %v", err)
	}
}
