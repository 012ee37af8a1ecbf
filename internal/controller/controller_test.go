package controller

import (
	"context"
	"strings"
	"testing"

	"AgentFlows/internal/flow"
	"AgentFlows/internal/llm"
	"AgentFlows/internal/prompt"
)

func testTemplates(t *testing.T) (*prompt.Template, *prompt.Template) {
	t.Helper()
	system, err := prompt.New(
		"You are an autonomous agent. Available commands:\n{{commands}}\nRespond with JSON only.",
		[]string{"commands"}, nil,
	)
	if err != nil {
		t.Fatalf("system template: %v", err)
	}
	human, err := prompt.New(
		"Goal: {{goal}}\nObservation: {{observation}}\nMemory: {{memory}}\nFeedback: {{human_feedback}}",
		[]string{"goal", "observation", "memory", "human_feedback"}, nil,
	)
	if err != nil {
		t.Fatalf("human template: %v", err)
	}
	return system, human
}

func testCommands() []CommandSpec {
	return []CommandSpec{
		{Name: "wiki_search", Description: "search wikipedia", InputArgs: []string{"search_term"}},
		{Name: "finish", Description: "return the final answer", InputArgs: []string{"answer"}},
	}
}

func TestControllerDecision(t *testing.T) {
	system, human := testTemplates(t)
	var seenSystem string
	backend := llm.BackendFunc(func(_ context.Context, messages []llm.Message) (string, error) {
		seenSystem = messages[0].Content
		return `{"thought":"look it up","command":"wiki_search","command_args":{"search_term":"gravity"}}`, nil
	})

	ctrl, err := New(Config{Backend: backend, SystemTemplate: system, HumanTemplate: human, Commands: testCommands()})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	out, err := ctrl.Run(context.Background(), flow.Data{KeyGoal: "explain gravity"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String(KeyCommand) != "wiki_search" {
		t.Fatalf("unexpected command: %+v", out)
	}
	args, ok := out[KeyCommandArgs].(map[string]any)
	if !ok || args["search_term"] != "gravity" {
		t.Fatalf("unexpected command args: %+v", out[KeyCommandArgs])
	}
	if !strings.Contains(seenSystem, "wiki_search: search wikipedia") {
		t.Fatalf("system prompt missing command description: %q", seenSystem)
	}
}

func TestControllerRepromptsOnMalformedReply(t *testing.T) {
	system, human := testTemplates(t)
	calls := 0
	backend := llm.BackendFunc(func(_ context.Context, messages []llm.Message) (string, error) {
		calls++
		if calls == 1 {
			return "I think we should search for gravity.", nil
		}
		if !strings.Contains(messages[len(messages)-1].Content, "not valid JSON") {
			t.Errorf("retry should carry corrective instruction")
		}
		return "```json\n{\"command\":\"finish\",\"command_args\":{\"answer\":\"done\"}}\n```", nil
	})

	ctrl, err := New(Config{Backend: backend, SystemTemplate: system, HumanTemplate: human, Commands: testCommands()})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	out, err := ctrl.Run(context.Background(), flow.Data{KeyGoal: "anything"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
	if out.String(KeyCommand) != "finish" {
		t.Fatalf("unexpected command: %+v", out)
	}
}

func TestControllerFailsAfterSecondMalformedReply(t *testing.T) {
	system, human := testTemplates(t)
	backend := llm.BackendFunc(func(_ context.Context, _ []llm.Message) (string, error) {
		return "still not json", nil
	})

	ctrl, err := New(Config{Backend: backend, SystemTemplate: system, HumanTemplate: human, Commands: testCommands()})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if _, err := ctrl.Run(context.Background(), flow.Data{KeyGoal: "anything"}); err == nil {
		t.Fatalf("expected error after second malformed reply")
	}
}

func TestControllerKeepsConversationHistory(t *testing.T) {
	system, human := testTemplates(t)
	var lastLen int
	backend := llm.BackendFunc(func(_ context.Context, messages []llm.Message) (string, error) {
		lastLen = len(messages)
		return `{"command":"finish","command_args":{"answer":"ok"}}`, nil
	})

	ctrl, err := New(Config{Backend: backend, SystemTemplate: system, HumanTemplate: human, Commands: testCommands()})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	input := flow.Data{KeyGoal: "g"}
	if _, err := ctrl.Run(context.Background(), input); err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if lastLen != 2 {
		t.Fatalf("round 1 should send system+user, got %d messages", lastLen)
	}
	if _, err := ctrl.Run(context.Background(), input); err != nil {
		t.Fatalf("round 2: %v", err)
	}
	if lastLen != 4 {
		t.Fatalf("round 2 should include prior exchange, got %d messages", lastLen)
	}

	ctrl.Reset()
	if _, err := ctrl.Run(context.Background(), input); err != nil {
		t.Fatalf("after reset: %v", err)
	}
	if lastLen != 2 {
		t.Fatalf("reset should clear history, got %d messages", lastLen)
	}
}

func TestParseDecisionRequiresCommand(t *testing.T) {
	if _, err := ParseDecision(`{"thought":"no command"}`); err == nil {
		t.Fatalf("expected error for missing command")
	}
}
