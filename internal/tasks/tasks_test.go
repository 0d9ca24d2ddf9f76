package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
)

func TestIsTaskConflict(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{asynq.ErrDuplicateTask, true},
		{asynq.ErrTaskIDConflict, true},
		{errors.New("task ID conflicts with an existing one"), true},
		{errors.New("duplicate task detected"), true},
		{errors.New("connection refused"), false},
	}
	for _, c := range cases {
		if got := isTaskConflict(c.err); got != c.want {
			t.Errorf("isTaskConflict(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestReconcileHandlerProcessTaskRunsClosure(t *testing.T) {
	called := false
	h := NewReconcileHandler(func(ctx context.Context) error {
		called = true
		return nil
	})
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskReconcile, nil)); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}
	if !called {
		t.Fatal("expected wrapped closure to be invoked")
	}
}

func TestReconcileHandlerPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	h := NewReconcileHandler(func(ctx context.Context) error { return wantErr })
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskReconcile, nil)); !errors.Is(err, wantErr) {
		t.Fatalf("ProcessTask error = %v, want %v", err, wantErr)
	}
}

func TestPlexBackfillHandlerProcessTaskRunsClosure(t *testing.T) {
	called := false
	h := NewPlexBackfillHandler(func() error {
		called = true
		return nil
	})
	if err := h.ProcessTask(context.Background(), asynq.NewTask(TaskPlexBackfill, nil)); err != nil {
		t.Fatalf("ProcessTask returned error: %v", err)
	}
	if !called {
		t.Fatal("expected wrapped closure to be invoked")
	}
}
