package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"AgentFlows/internal/flow"
)

func TestMemoryStoreAppendRecent(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		err := store.Append(ctx, Entry{
			SessionID: "s1",
			Round:     i,
			Content:   fmt.Sprintf("round %d", i),
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.Recent(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	// 窗口为 3，最旧的两条被裁剪
	if len(entries) != 3 || entries[0].Round != 3 {
		t.Fatalf("unexpected window: %+v", entries)
	}

	entries, err = store.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("recent with limit: %v", err)
	}
	if len(entries) != 2 || entries[1].Round != 5 {
		t.Fatalf("unexpected limited window: %+v", entries)
	}
}

func TestMemoryStoreSearchRanksByOverlap(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	seed := []string{
		"observation: gravity is a fundamental interaction",
		"command: wiki_search gravity waves detection",
		"observation: the weather is sunny today",
	}
	for i, content := range seed {
		if err := store.Append(ctx, Entry{SessionID: "s1", Round: i + 1, Content: content, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.Search(ctx, "s1", "gravity waves", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 matches, got %+v", entries)
	}
	if !strings.Contains(entries[0].Content, "gravity waves") {
		t.Fatalf("best overlap should rank first: %+v", entries)
	}

	entries, err = store.Search(ctx, "s1", "quantum chromodynamics", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("zero-overlap entries must be dropped: %+v", entries)
	}
}

func TestMemoryStoreSessionsIsolated(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	_ = store.Append(ctx, Entry{SessionID: "a", Content: "alpha", CreatedAt: time.Now()})
	_ = store.Append(ctx, Entry{SessionID: "b", Content: "beta", CreatedAt: time.Now()})

	entries, _ := store.Recent(ctx, "a", 0)
	if len(entries) != 1 || entries[0].Content != "alpha" {
		t.Fatalf("sessions leaked: %+v", entries)
	}

	if err := store.Clear(ctx, "a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, _ = store.Recent(ctx, "a", 0)
	if len(entries) != 0 {
		t.Fatalf("clear should remove session entries")
	}
	entries, _ = store.Recent(ctx, "b", 0)
	if len(entries) != 1 {
		t.Fatalf("clear must not touch other sessions")
	}
}

func TestFlowReadWrite(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	writer, err := NewFlow("", "", store, OpWrite, 0)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	reader, err := NewFlow("", "", store, OpRead, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	input := flow.Data{
		KeySessionID:   "s1",
		KeyGoal:        "explain gravity",
		KeyThought:     "search wikipedia first",
		KeyCommand:     "wiki_search",
		KeyObservation: "gravity is a fundamental interaction",
	}
	if _, err := writer.Run(ctx, input); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := reader.Run(ctx, flow.Data{KeySessionID: "s1", KeyGoal: "gravity"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rendered := out.String(KeyMemory)
	if !strings.Contains(rendered, "[round 1]") || !strings.Contains(rendered, "wiki_search") {
		t.Fatalf("unexpected memory: %q", rendered)
	}
}

func TestFlowReadFallsBackToRecent(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	_ = store.Append(ctx, Entry{SessionID: "s1", Content: "observation: unrelated fact", CreatedAt: time.Now()})

	reader, err := NewFlow("", "", store, OpRead, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	out, err := reader.Run(ctx, flow.Data{KeySessionID: "s1", KeyGoal: "zzz"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(out.String(KeyMemory), "unrelated fact") {
		t.Fatalf("expected fallback to recent entries: %+v", out)
	}
}

func TestFlowReadEmptyStore(t *testing.T) {
	reader, err := NewFlow("", "", NewMemoryStore(0), OpRead, 0)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	out, err := reader.Run(context.Background(), flow.Data{KeySessionID: "s1", KeyGoal: "g"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.String(KeyMemory) != "No relevant memories." {
		t.Fatalf("unexpected rendering: %+v", out)
	}
}

func TestNewFlowValidation(t *testing.T) {
	if _, err := NewFlow("", "", nil, OpRead, 0); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewFlow("", "", NewMemoryStore(0), "compact", 0); err == nil {
		t.Fatalf("expected error for unsupported op")
	}
}
