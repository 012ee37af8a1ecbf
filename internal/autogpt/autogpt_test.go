package autogpt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentFlows/internal/flow"
	"AgentFlows/internal/flowcfg"
	"AgentFlows/internal/llm"
	"AgentFlows/internal/memory"
	"AgentFlows/internal/tools"
)

const autogptDoc = `
flow:
  _target_: autogpt
  name: "autogpt"
  params:
    max_rounds: 5
  subflows:
    memory_read:
      _target_: memory
      params:
        op: read
    controller:
      _target_: controller
      name: "controller"
      params:
        backend: "default"
        system_prompt_template:
          template: "You are an agent. Commands:\n{{commands}}"
          input_variables: [commands]
        human_prompt_template:
          template: "Goal: {{goal}}\nObservation: {{observation}}\nMemory: {{memory}}\nFeedback: {{human_feedback}}"
          input_variables: [goal, observation, memory, human_feedback]
        commands:
          - name: wiki_search
            description: "search wikipedia"
            input_args: [search_term]
          - name: finish
            description: "deliver the final answer"
            input_args: [answer]
    executor:
      _target_: executor
      subflows:
        wiki_search:
          _target_: wiki_search
          params:
            base_url: "%s"
        finish:
          _target_: finish
    memory_write:
      _target_: memory
      params:
        op: write
    human_feedback:
      _target_: human_feedback
`

func newWikiServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "opensearch":
			_ = json.NewEncoder(w).Encode([]any{"gravity", []string{"Gravity"}, []string{}, []string{}})
		case "query":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{
					"pages": map[string]any{"1": map[string]any{"title": "Gravity", "extract": "Gravity attracts masses."}},
				},
			})
		}
	}))
}

func buildLoop(t *testing.T, serverURL string, backend llm.Backend, feedback flowcfg.FeedbackFunc) flow.Flow {
	t.Helper()
	cfg, err := flowcfg.Parse([]byte(fmt.Sprintf(autogptDoc, serverURL)))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	registry := flowcfg.NewRegistry()
	if err := RegisterBuiltins(registry); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	built, err := registry.Build(cfg, flowcfg.Dependencies{
		Backends: map[string]llm.Backend{"default": backend},
		Memory:   memory.NewMemoryStore(0),
		Feedback: feedback,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return built
}

func TestAutoGPTLoopFinishesGoal(t *testing.T) {
	server := newWikiServer(t)
	defer server.Close()

	calls := 0
	backend := llm.BackendFunc(func(_ context.Context, messages []llm.Message) (string, error) {
		calls++
		switch calls {
		case 1:
			return `{"thought":"look it up","command":"wiki_search","command_args":{"search_term":"gravity"}}`, nil
		default:
			last := messages[len(messages)-1].Content
			if !strings.Contains(last, "Gravity attracts masses.") {
				t.Errorf("second round should see the observation, got %q", last)
			}
			return `{"thought":"done","command":"finish","command_args":{"answer":"Gravity attracts masses."}}`, nil
		}
	})

	loop := buildLoop(t, server.URL, backend, nil)
	out, err := loop.Run(context.Background(), flow.Data{
		"goal":              "explain gravity",
		memory.KeySessionID: "test-session",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String(tools.AnswerKey) != "Gravity attracts masses." {
		t.Fatalf("unexpected answer: %+v", out)
	}
	if out[flow.RoundsKey] != 2 {
		t.Fatalf("expected 2 rounds, got %v", out[flow.RoundsKey])
	}
	if calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", calls)
	}
}

func TestAutoGPTLoopInjectsHumanFeedback(t *testing.T) {
	server := newWikiServer(t)
	defer server.Close()

	calls := 0
	backend := llm.BackendFunc(func(_ context.Context, messages []llm.Message) (string, error) {
		calls++
		if calls == 1 {
			return `{"command":"wiki_search","command_args":{"search_term":"gravity"},"speak":"searching now"}`, nil
		}
		last := messages[len(messages)-1].Content
		if !strings.Contains(last, "Feedback: be more concise") {
			t.Errorf("feedback should reach the controller prompt, got %q", last)
		}
		return `{"command":"finish","command_args":{"answer":"ok"}}`, nil
	})
	feedback := flowcfg.FeedbackFunc(func(_ context.Context, question string) (string, error) {
		if question != "searching now" {
			t.Errorf("feedback prompt should carry speak text, got %q", question)
		}
		return "be more concise", nil
	})

	loop := buildLoop(t, server.URL, backend, feedback)
	if _, err := loop.Run(context.Background(), flow.Data{
		"goal":              "explain gravity",
		memory.KeySessionID: "s",
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestAutoGPTLoopUserTermination(t *testing.T) {
	server := newWikiServer(t)
	defer server.Close()

	backend := llm.BackendFunc(func(_ context.Context, _ []llm.Message) (string, error) {
		return `{"command":"wiki_search","command_args":{"search_term":"gravity"}}`, nil
	})
	feedback := flowcfg.FeedbackFunc(func(_ context.Context, _ string) (string, error) {
		return "q", nil
	})

	loop := buildLoop(t, server.URL, backend, feedback)
	out, err := loop.Run(context.Background(), flow.Data{
		"goal":              "explain gravity",
		memory.KeySessionID: "s",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String(tools.AnswerKey) != TerminatedAnswer {
		t.Fatalf("expected user termination answer, got %+v", out)
	}
	if out[flow.RoundsKey] != 1 {
		t.Fatalf("termination should stop after round 1, got %v", out[flow.RoundsKey])
	}
}

func TestAutoGPTLoopStopsAtMaxRounds(t *testing.T) {
	server := newWikiServer(t)
	defer server.Close()

	backend := llm.BackendFunc(func(_ context.Context, _ []llm.Message) (string, error) {
		return `{"command":"wiki_search","command_args":{"search_term":"gravity"}}`, nil
	})

	loop := buildLoop(t, server.URL, backend, nil)
	out, err := loop.Run(context.Background(), flow.Data{
		"goal":              "explain gravity",
		memory.KeySessionID: "s",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out[flow.RoundsKey] != 5 {
		t.Fatalf("expected loop to stop at max rounds, got %v", out[flow.RoundsKey])
	}
	if out.Truthy(tools.FinishedKey) {
		t.Fatalf("goal should remain unfinished: %+v", out)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing controller and executor")
	}
}
