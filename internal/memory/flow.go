package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
)

// 记忆流在工作数据中读写的键。
const (
	KeySessionID   = "session_id"
	KeyGoal        = "goal"
	KeyMemory      = "memory"
	KeyThought     = "thought"
	KeyCommand     = "command"
	KeyObservation = "observation"
)

// 记忆流支持的操作。
const (
	OpRead  = "read"
	OpWrite = "write"
)

// Flow 连接记忆存储与推理循环。read 操作在控制器之前检索相关记忆，
// write 操作在执行器之后沉淀本轮的决策与观察。
type Flow struct {
	flow.Base
	store Store
	op    string
	limit int
}

// NewFlow 创建记忆流。
func NewFlow(name, description string, store Store, op string, limit int) (*Flow, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "记忆流缺少存储实现")
	}
	if op != OpRead && op != OpWrite {
		return nil, xerrors.New(xerrors.CodeFlowConfig,
			fmt.Sprintf("记忆流不支持操作 %q", op))
	}
	if limit <= 0 {
		limit = 5
	}
	if name == "" {
		name = "memory_" + op
	}
	inputKeys := []string{KeySessionID, KeyGoal}
	var outputKeys []string
	if op == OpRead {
		outputKeys = []string{KeyMemory}
	}
	return &Flow{
		Base:  flow.NewBase(name, description, inputKeys, outputKeys),
		store: store,
		op:    op,
		limit: limit,
	}, nil
}

// Run 实现 flow.Flow 接口。
func (f *Flow) Run(ctx context.Context, input flow.Data) (flow.Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}
	if f.op == OpRead {
		return f.read(ctx, input)
	}
	return f.write(ctx, input)
}

func (f *Flow) read(ctx context.Context, input flow.Data) (flow.Data, error) {
	sessionID := input.String(KeySessionID)
	query := input.String(KeyGoal)
	if obs := input.String(KeyObservation); obs != "" {
		query += " " + obs
	}

	entries, err := f.store.Search(ctx, sessionID, query, f.limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检索记忆失败")
	}
	if len(entries) == 0 {
		// 没有相关记忆时退化为最近若干条
		entries, err = f.store.Recent(ctx, sessionID, f.limit)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取最近记忆失败")
		}
	}
	return flow.Data{KeyMemory: Render(entries)}, nil
}

func (f *Flow) write(ctx context.Context, input flow.Data) (flow.Data, error) {
	content := summarizeRound(input)
	if content == "" {
		return flow.Data{}, nil
	}
	round := f.nextRound()
	entry := Entry{
		SessionID: input.String(KeySessionID),
		Round:     round,
		Content:   fmt.Sprintf("[round %d] %s", round, content),
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.Append(ctx, entry); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入记忆失败")
	}
	return flow.Data{}, nil
}

func (f *Flow) nextRound() int {
	round := 1
	if v, ok := f.StateGet("round"); ok {
		round = v.(int) + 1
	}
	f.StateSet("round", round)
	return round
}

// summarizeRound 把一轮循环中的关键字段拼成单条记忆内容。
func summarizeRound(input flow.Data) string {
	var parts []string
	if thought := input.String(KeyThought); thought != "" {
		parts = append(parts, "thought: "+thought)
	}
	if command := input.String(KeyCommand); command != "" {
		parts = append(parts, "command: "+command)
	}
	if obs := input.String(KeyObservation); obs != "" {
		parts = append(parts, "observation: "+obs)
	}
	return strings.Join(parts, "; ")
}

var _ flow.Flow = (*Flow)(nil)
