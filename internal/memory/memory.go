package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Entry 是一条记忆：某一轮循环留下的决策与观察摘要。
type Entry struct {
	SessionID string    `json:"session_id"`
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 定义记忆存储的通用接口。
type Store interface {
	// Append 追加一条记忆。
	Append(ctx context.Context, entry Entry) error
	// Recent 返回会话最近的 limit 条记忆，按时间正序排列。
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	// Search 按与 query 的关键词重合度检索会话记忆。
	Search(ctx context.Context, sessionID, query string, limit int) ([]Entry, error)
	// Clear 清空会话记忆。
	Clear(ctx context.Context, sessionID string) error
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// tokenize 把文本切成小写词元，用于关键词重合度打分。
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(token) >= 2 {
			tokens[token] = true
		}
	}
	return tokens
}

// score 计算记忆内容与查询词元的重合数。
func score(content string, queryTokens map[string]bool) int {
	overlap := 0
	for token := range tokenize(content) {
		if queryTokens[token] {
			overlap++
		}
	}
	return overlap
}

// rank 对条目按重合度降序、时间降序排序并截断。重合度为零的条目被丢弃。
func rank(entries []Entry, query string, limit int) []Entry {
	queryTokens := tokenize(query)
	type scored struct {
		entry Entry
		score int
	}
	var matched []scored
	for _, entry := range entries {
		if s := score(entry.Content, queryTokens); s > 0 {
			matched = append(matched, scored{entry: entry, score: s})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].entry.CreatedAt.After(matched[j].entry.CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]Entry, 0, len(matched))
	for _, m := range matched {
		out = append(out, m.entry)
	}
	return out
}

// Render 把记忆条目渲染成提示词中可读的文本。
func Render(entries []Entry) string {
	if len(entries) == 0 {
		return "No relevant memories."
	}
	var builder strings.Builder
	for i, entry := range entries {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(entry.Content)
	}
	return builder.String()
}
