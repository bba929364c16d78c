package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTask struct {
	name string
	runs int
	err  error
}

func (t *fakeTask) Name() string           { return t.name }
func (t *fakeTask) Schedule() string       { return "@every 1m" }
func (t *fakeTask) Timeout() time.Duration { return time.Second }
func (t *fakeTask) Run(_ context.Context) error {
	t.runs++
	return t.err
}

func TestTaskRegistry(t *testing.T) {
	registry := NewTaskRegistry()
	task := &fakeTask{name: "demo"}
	registry.Register(task)

	got, ok := registry.Get("demo")
	if !ok || got.Name() != "demo" {
		t.Fatalf("expected registered task, got %v %v", got, ok)
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatalf("expected missing task lookup to fail")
	}
	if len(registry.All()) != 1 {
		t.Fatalf("expected one task, got %d", len(registry.All()))
	}
}

func TestRunOnce(t *testing.T) {
	registry := NewTaskRegistry()
	task := &fakeTask{name: "demo"}
	registry.Register(task)
	r := NewRunner(registry)

	if err := r.RunOnce(context.Background(), "demo"); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if task.runs != 1 {
		t.Fatalf("expected one run, got %d", task.runs)
	}
	if err := r.RunOnce(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestRunOncePropagatesTaskError(t *testing.T) {
	registry := NewTaskRegistry()
	registry.Register(&fakeTask{name: "demo", err: errors.New("boom")})
	r := NewRunner(registry)
	if err := r.RunOnce(context.Background(), "demo"); err == nil {
		t.Fatalf("expected task error to propagate")
	}
}
