package run

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	runs := []*Run{
		{ID: "r1", Goal: "g1", Status: StatusPending, MaxRetries: 3},
		{ID: "r2", Goal: "g2", Status: StatusFailed, MaxRetries: 3},
		{ID: "r3", Goal: "g3", Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, record := range runs {
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("create run %s: %v", record.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "r2", CodeRunProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "r3", Result{Answer: "ok", Rounds: 2}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.runs["r1"].UpdatedAt = base.Unix()
	store.runs["r2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.runs["r3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if all[0].ID != "r3" {
		t.Fatalf("expected newest run first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "r2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	succeeded, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "r3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 runs to match since filter, got %d", len(recent))
	}

	matched, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("g2")}))
	if err != nil {
		t.Fatalf("list with query: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r2" {
		t.Fatalf("unexpected query list: %+v", matched)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &Run{ID: "r1", Goal: "g", Status: StatusPending, MaxRetries: 2}
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, record); !IsRunError(err, CodeRunConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "r1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim state: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "r1"); !IsRunError(err, CodeRunConflict) {
		t.Fatalf("claim running run should conflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "r1", CodeRunProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("reclaim after failure: %v", err)
	}
	if err := store.MarkFailed(ctx, "r1", CodeRunProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); !IsRunError(err, CodeRunExhausted) {
		t.Fatalf("claim exhausted run should fail, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "r1", Result{Answer: "done"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); !IsRunError(err, CodeRunCompleted) {
		t.Fatalf("claim completed run should fail, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !IsRunError(err, CodeRunNotFound) {
		t.Fatalf("claim missing run should fail, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	runs := []*Run{
		{ID: "a", Goal: "g1", Status: StatusPending, MaxRetries: 3},
		{ID: "b", Goal: "g2", Status: StatusPending, MaxRetries: 3},
		{ID: "c", Goal: "g3", Status: StatusPending, MaxRetries: 3},
	}

	for _, record := range runs {
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("create run %s: %v", record.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeRunProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", Result{Answer: "ok", Rounds: 1}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.runs["a"].UpdatedAt = base.Unix()
	store.runs["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.runs["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	withResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	withoutResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(false)}))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}

	failedOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}
