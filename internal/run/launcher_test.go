package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"AgentFlows/internal/flow"
	"AgentFlows/internal/flowcfg"
)

type flakyFlow struct {
	failures int
	calls    int
	resets   int
}

func (f *flakyFlow) Name() string        { return "flaky" }
func (f *flakyFlow) Description() string { return "fails a configured number of times" }

func (f *flakyFlow) Run(_ context.Context, data flow.Data) (flow.Data, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient flow failure")
	}
	return flow.Data{"answer": "recovered: " + data.String("goal")}, nil
}

func (f *flakyFlow) Reset() { f.resets++ }

func TestFlowLauncherRunsNamedFlow(t *testing.T) {
	registry := flowcfg.NewRegistry()

	configs := map[string]*flowcfg.Document{
		"echo": {Flow: &flowcfg.Config{
			Target: "fixed_reply",
			Name:   "echo",
			Params: map[string]any{
				"fixed_reply": "hello there",
				"output_key":  "answer",
			},
		}},
	}

	launcher, err := NewFlowLauncher(LauncherConfig{
		Registry: registry,
		Configs:  configs,
	})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}

	result, err := launcher.Launch(context.Background(), Request{ID: "r1", Goal: "say hi", FlowName: "echo"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if result.Answer != "hello there" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
}

func TestFlowLauncherFallsBackToDefaultFlow(t *testing.T) {
	registry := flowcfg.NewRegistry()

	configs := map[string]*flowcfg.Document{
		"only": {Flow: &flowcfg.Config{
			Target: "fixed_reply",
			Name:   "only",
			Params: map[string]any{
				"fixed_reply": "default reply",
				"output_key":  "answer",
			},
		}},
	}

	launcher, err := NewFlowLauncher(LauncherConfig{Registry: registry, Configs: configs})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}

	result, err := launcher.Launch(context.Background(), Request{ID: "r1", Goal: "anything"})
	if err != nil {
		t.Fatalf("launch without flow name: %v", err)
	}
	if result.Answer != "default reply" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}

	if _, err := launcher.Launch(context.Background(), Request{ID: "r2", Goal: "x", FlowName: "missing"}); err == nil {
		t.Fatal("expected error for unknown flow name")
	}
}

func TestFlowLauncherRetriesWithinRun(t *testing.T) {
	registry := flowcfg.NewRegistry()

	instance := &flakyFlow{failures: 2}
	if err := registry.Register("flaky", func(*flowcfg.Config, flowcfg.Dependencies) (flow.Flow, error) {
		return instance, nil
	}); err != nil {
		t.Fatalf("register flaky target: %v", err)
	}

	configs := map[string]*flowcfg.Document{
		"flaky": {Flow: &flowcfg.Config{Target: "flaky", Name: "flaky"}},
	}

	launcher, err := NewFlowLauncher(LauncherConfig{
		Registry:      registry,
		Configs:       configs,
		DefaultFlow:   "flaky",
		BatchRetries:  3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}

	result, err := launcher.Launch(context.Background(), Request{ID: "r1", Goal: "retry me"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if result.Answer != "recovered: retry me" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if instance.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", instance.calls)
	}
	if instance.resets != 2 {
		t.Fatalf("expected 2 resets between attempts, got %d", instance.resets)
	}
}

func TestFlowLauncherStopsAfterRetriesExhausted(t *testing.T) {
	registry := flowcfg.NewRegistry()

	instance := &flakyFlow{failures: 10}
	if err := registry.Register("flaky", func(*flowcfg.Config, flowcfg.Dependencies) (flow.Flow, error) {
		return instance, nil
	}); err != nil {
		t.Fatalf("register flaky target: %v", err)
	}

	launcher, err := NewFlowLauncher(LauncherConfig{
		Registry:      registry,
		Configs:       map[string]*flowcfg.Document{"flaky": {Flow: &flowcfg.Config{Target: "flaky", Name: "flaky"}}},
		BatchRetries:  2,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}

	if _, err := launcher.Launch(context.Background(), Request{ID: "r1", Goal: "never works"}); err == nil {
		t.Fatal("expected failure after retries exhausted")
	}
	if instance.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", instance.calls)
	}
}

type stallingFlow struct{}

func (stallingFlow) Name() string        { return "stall" }
func (stallingFlow) Description() string { return "blocks until the context ends" }
func (stallingFlow) Reset()              {}

func (stallingFlow) Run(ctx context.Context, _ flow.Data) (flow.Data, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFlowLauncherAppliesRunTimeout(t *testing.T) {
	registry := flowcfg.NewRegistry()
	if err := registry.Register("stall", func(*flowcfg.Config, flowcfg.Dependencies) (flow.Flow, error) {
		return stallingFlow{}, nil
	}); err != nil {
		t.Fatalf("register stall target: %v", err)
	}

	launcher, err := NewFlowLauncher(LauncherConfig{
		Registry:   registry,
		Configs:    map[string]*flowcfg.Document{"stall": {Flow: &flowcfg.Config{Target: "stall", Name: "stall"}}},
		RunTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := launcher.Launch(context.Background(), Request{ID: "r1", Goal: "hang"})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("launch did not return within the run timeout")
	}
}

func TestFlowLauncherAppliesInterfaces(t *testing.T) {
	registry := flowcfg.NewRegistry()

	var seen flow.Data
	if err := registry.Register("echo", func(*flowcfg.Config, flowcfg.Dependencies) (flow.Flow, error) {
		return flow.FlowFunc("echo", "", func(_ context.Context, input flow.Data) (flow.Data, error) {
			seen = input.Clone()
			return flow.Data{
				"answer":      "echo: " + input.String("goal"),
				"observation": "internal detail",
			}, nil
		}), nil
	}); err != nil {
		t.Fatalf("register echo target: %v", err)
	}

	launcher, err := NewFlowLauncher(LauncherConfig{
		Registry: registry,
		Configs: map[string]*flowcfg.Document{
			"echo": {
				Flow:            &flowcfg.Config{Target: "echo", Name: "echo"},
				InputInterface:  []string{"goal"},
				OutputInterface: []string{"answer"},
			},
		},
	})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}

	result, err := launcher.Launch(context.Background(), Request{
		ID:       "r1",
		Goal:     "filter me",
		Metadata: map[string]any{"noise": "drop this"},
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, ok := seen["noise"]; ok {
		t.Fatalf("input interface should drop metadata keys, got %+v", seen)
	}
	if _, ok := seen["session_id"]; ok {
		t.Fatalf("input interface should only pass declared keys, got %+v", seen)
	}
	if result.Answer != "echo: filter me" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if result.Observations != "" {
		t.Fatalf("output interface should drop the observation, got %q", result.Observations)
	}
}

func TestFlowLauncherOverridesMaxRounds(t *testing.T) {
	registry := flowcfg.NewRegistry()

	var gotRounds int
	if err := registry.Register("rounds", func(cfg *flowcfg.Config, _ flowcfg.Dependencies) (flow.Flow, error) {
		gotRounds = cfg.ParamInt("max_rounds", 0)
		return flow.FlowFunc("rounds", "", func(_ context.Context, _ flow.Data) (flow.Data, error) {
			return flow.Data{"answer": "done"}, nil
		}), nil
	}); err != nil {
		t.Fatalf("register rounds target: %v", err)
	}

	launcher, err := NewFlowLauncher(LauncherConfig{
		Registry: registry,
		Configs: map[string]*flowcfg.Document{
			"rounds": {Flow: &flowcfg.Config{
				Target: "rounds",
				Name:   "rounds",
				Params: map[string]any{"max_rounds": 9},
			}},
		},
		MaxRounds: 2,
	})
	if err != nil {
		t.Fatalf("new launcher: %v", err)
	}

	if _, err := launcher.Launch(context.Background(), Request{ID: "r1", Goal: "x"}); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if gotRounds != 2 {
		t.Fatalf("expected max_rounds override 2, got %d", gotRounds)
	}
}
