package prompt

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tpl, err := New(
		"Here is the goal you need to achieve:\n{{goal}}\nTools: {{tools}}",
		[]string{"goal"},
		map[string]string{"tools": "wiki_search, finish"},
	)
	if err != nil {
		t.Fatalf("new template: %v", err)
	}

	out, err := tpl.Render(map[string]string{"goal": "Answer the question"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Answer the question") || !strings.Contains(out, "wiki_search, finish") {
		t.Fatalf("unexpected render output: %q", out)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	tpl, err := New("{{goal}}", []string{"goal"}, nil)
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	if _, err := tpl.Render(nil); err == nil {
		t.Fatalf("expected error for missing variable")
	}
}

func TestNewRejectsUndeclaredPlaceholder(t *testing.T) {
	if _, err := New("{{goal}} {{typo}}", []string{"goal"}, nil); err == nil {
		t.Fatalf("expected error for undeclared placeholder")
	}
}

func TestNewRejectsEmptyTemplate(t *testing.T) {
	if _, err := New("  ", nil, nil); err == nil {
		t.Fatalf("expected error for empty template")
	}
}

func TestPlaceholdersDeduplicated(t *testing.T) {
	tpl, err := New("{{a}} {{ b }} {{a}}", []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	names := tpl.Placeholders()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected placeholders: %v", names)
	}
}

func TestFromConfig(t *testing.T) {
	tpl, err := FromConfig(map[string]any{
		"template":        "Goal: {{goal}}",
		"input_variables": []any{"goal"},
	})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if got := tpl.MustRender(map[string]string{"goal": "x"}); got != "Goal: x" {
		t.Fatalf("unexpected render: %q", got)
	}

	if _, err := FromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
