package executor

import (
	"context"
	"strings"
	"testing"

	"AgentFlows/internal/controller"
	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
	"AgentFlows/internal/tools"
)

type stubTool struct {
	flow.Base
	run func(ctx context.Context, input flow.Data) (flow.Data, error)
}

func (s *stubTool) Run(ctx context.Context, input flow.Data) (flow.Data, error) {
	return s.run(ctx, input)
}

func newStubTool(name string, run func(ctx context.Context, input flow.Data) (flow.Data, error)) *stubTool {
	return &stubTool{Base: flow.NewBase(name, "", nil, nil), run: run}
}

func TestExecutorDispatch(t *testing.T) {
	var seenArgs flow.Data
	search := newStubTool("wiki_search", func(_ context.Context, input flow.Data) (flow.Data, error) {
		seenArgs = input
		return flow.Data{tools.ObservationKey: "found it"}, nil
	})

	exec, err := New("", "", map[string]flow.Flow{"wiki_search": search})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	out, err := exec.Run(context.Background(), flow.Data{
		controller.KeyCommand:     "wiki_search",
		controller.KeyCommandArgs: map[string]any{"search_term": "gravity"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String(tools.ObservationKey) != "found it" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if seenArgs.String("search_term") != "gravity" {
		t.Fatalf("args not forwarded: %+v", seenArgs)
	}
}

func TestExecutorUnknownCommand(t *testing.T) {
	exec, err := New("", "", map[string]flow.Flow{
		"finish": tools.NewFinishFlow("", ""),
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	out, err := exec.Run(context.Background(), flow.Data{controller.KeyCommand: "teleport"})
	if err != nil {
		t.Fatalf("unknown command must not abort the loop: %v", err)
	}
	obs := out.String(tools.ObservationKey)
	if !strings.Contains(obs, `Unknown command "teleport"`) || !strings.Contains(obs, "finish") {
		t.Fatalf("unexpected observation: %q", obs)
	}
}

func TestExecutorToolFailureBecomesObservation(t *testing.T) {
	broken := newStubTool("broken", func(_ context.Context, _ flow.Data) (flow.Data, error) {
		return nil, xerrors.New(xerrors.CodeToolFailure, "upstream down")
	})
	exec, err := New("", "", map[string]flow.Flow{"broken": broken})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	out, err := exec.Run(context.Background(), flow.Data{controller.KeyCommand: "broken"})
	if err != nil {
		t.Fatalf("tool failure must not abort the loop: %v", err)
	}
	if !strings.Contains(out.String(tools.ObservationKey), "failed") {
		t.Fatalf("unexpected observation: %+v", out)
	}
}

func TestExecutorFinishPropagatesEarlyExit(t *testing.T) {
	exec, err := New("", "", map[string]flow.Flow{"finish": tools.NewFinishFlow("", "")})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	out, err := exec.Run(context.Background(), flow.Data{
		controller.KeyCommand:     "finish",
		controller.KeyCommandArgs: map[string]any{"answer": "42"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Truthy(tools.FinishedKey) || out.String(tools.AnswerKey) != "42" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestExecutorRequiresBranches(t *testing.T) {
	if _, err := New("", "", nil); err == nil {
		t.Fatalf("expected error for empty branches")
	}
}
