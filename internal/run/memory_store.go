package run

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentFlows/internal/errors"
)

// MemoryStore 以内存方式保存运行状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run 不能为空")
	}
	if run.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行 ID 不能为空")
	}
	if _, ok := m.runs[run.ID]; ok {
		return ErrRunConflict
	}
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// Get 返回运行记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// Claim 将运行状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	switch run.Status {
	case StatusSucceeded:
		return cloneRun(run), ErrRunCompleted
	case StatusRunning:
		return cloneRun(run), ErrRunConflict
	}
	if run.Attempts >= run.MaxRetries {
		return cloneRun(run), ErrRunExhausted
	}
	run.Status = StatusRunning
	run.Attempts++
	run.LastError = ""
	run.ErrorCode = ""
	run.UpdatedAt = time.Now().Unix()
	return cloneRun(run), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusSucceeded
	run.Result = &result
	run.LastError = ""
	run.ErrorCode = ""
	run.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记运行失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = StatusFailed
	run.LastError = lastError
	run.ErrorCode = string(code)
	run.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的运行列表。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		if !matchesListFilters(run, opts) {
			continue
		}
		results = append(results, cloneRun(run))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Run{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的运行数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (RunStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := RunStats{}
	for _, run := range m.runs {
		if !matchesListFilters(run, opts) {
			continue
		}
		stats.Total++
		switch run.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if run.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = run.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (run.UpdatedAt != 0 && run.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = run.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(run *Run, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if run.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && run.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && run.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && resultPresent(run.Result) != *opts.HasResult {
		return false
	}
	if opts.Query != "" && !matchesQuery(run, opts.Query) {
		return false
	}
	return true
}

func matchesQuery(run *Run, query string) bool {
	query = strings.ToLower(query)
	fields := []string{run.ID, run.Goal, run.FlowName, run.SessionID, run.LastError}
	if run.Result != nil {
		fields = append(fields, run.Result.Answer, run.Result.Thought, run.Result.Observations)
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
