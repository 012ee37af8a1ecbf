package run

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentFlows/internal/errors"
)

type fakeLauncher struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(req Request) error
}

func (f *fakeLauncher) Launch(ctx context.Context, req Request) (*Result, error) {
	if f.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.latency):
		}
	}
	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return nil, err
		}
	}
	f.processed.Add(1)
	return &Result{
		Answer:  "answer for " + req.Goal,
		Thought: "done",
		Rounds:  1,
	}, nil
}

func TestProcessorHandlesConcurrentRuns(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	service := NewService(store, queue, 3)
	launcher := &fakeLauncher{latency: 2 * time.Millisecond}

	processor := NewProcessor(launcher, store, queue, queue, WithWorkerCount(8))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.Start(ctx)
	}()

	const total = 200
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		record, err := service.Submit(ctx, Request{Goal: fmt.Sprintf("goal-%03d", i)})
		if err != nil {
			t.Fatalf("submit run %d: %v", i, err)
		}
		ids = append(ids, record.ID)
	}

	deadline := time.Now().Add(10 * time.Second)
	for launcher.processed.Load() < total {
		if time.Now().After(deadline) {
			t.Fatalf("processed %d of %d runs before deadline", launcher.processed.Load(), total)
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, id := range ids {
		record, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get run %s: %v", id, err)
		}
		if record.Status != StatusSucceeded {
			t.Fatalf("run %s not succeeded: %s (%s)", id, record.Status, record.LastError)
		}
		if record.Result == nil || record.Result.Answer == "" {
			t.Fatalf("run %s missing result", id)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop after context cancellation")
	}
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	service := NewService(store, queue, 3)

	var failures atomic.Int32
	launcher := &fakeLauncher{
		fail: func(Request) error {
			if failures.Add(1) <= 2 {
				return xerrors.New(CodeRunProcessing, "transient failure", xerrors.WithRetryable(true))
			}
			return nil
		},
	}

	processor := NewProcessor(launcher, store, queue, queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = processor.Start(ctx) }()

	record, err := service.Submit(ctx, Request{Goal: "flaky goal"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	final, err := service.WaitUntilCompleted(waitCtx, record.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusSucceeded {
		t.Fatalf("expected success after retries, got %s (%s)", final.Status, final.LastError)
	}
	if final.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", final.Attempts)
	}
}

func TestProcessorMarksTerminalFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	service := NewService(store, queue, 3)

	launcher := &fakeLauncher{
		fail: func(Request) error {
			return xerrors.New(CodeRunValidation, "bad input")
		},
	}

	processor := NewProcessor(launcher, store, queue, queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = processor.Start(ctx) }()

	record, err := service.Submit(ctx, Request{Goal: "doomed goal"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	final, err := service.WaitUntilCompleted(waitCtx, record.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusFailed {
		t.Fatalf("expected failure, got %s", final.Status)
	}
	if final.ErrorCode != string(CodeRunValidation) {
		t.Fatalf("unexpected error code: %s", final.ErrorCode)
	}
	if final.Attempts != 1 {
		t.Fatalf("non-retryable failure should not retry, got %d attempts", final.Attempts)
	}
}

func TestProcessorAppliesRecoveryFallback(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	service := NewService(store, queue, 3)

	launcher := &fakeLauncher{
		fail: func(Request) error {
			return xerrors.New(CodeRunValidation, "unrecoverable input")
		},
	}

	fallback := &Result{Answer: "degraded answer"}
	processor := NewProcessor(launcher, store, queue, queue,
		WithRecoveryHandler(RecoveryFunc(func(_ context.Context, _ *Run, _ error) (*Result, error) {
			return fallback, nil
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = processor.Start(ctx) }()

	record, err := service.Submit(ctx, Request{Goal: "degradable goal"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	final, err := service.WaitUntilCompleted(waitCtx, record.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusSucceeded {
		t.Fatalf("expected degraded success, got %s", final.Status)
	}
	if final.Result == nil || final.Result.Answer != "degraded answer" {
		t.Fatalf("unexpected result: %+v", final.Result)
	}
	if final.Result.Observations == "" {
		t.Fatal("degraded result should carry an observation note")
	}
}
