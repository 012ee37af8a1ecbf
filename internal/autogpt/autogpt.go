package autogpt

import (
	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
	"AgentFlows/internal/tools"
)

// 组合流中各子流的布线键。
const (
	WireMemoryRead    = "memory_read"
	WireController    = "controller"
	WireExecutor      = "executor"
	WireMemoryWrite   = "memory_write"
	WireHumanFeedback = "human_feedback"
)

// Config 聚合自治循环的构造参数。MemoryRead、MemoryWrite 与
// HumanFeedback 允许为空，对应环节会被跳过。
type Config struct {
	Name          string
	Description   string
	MaxRounds     int
	Controller    flow.Flow
	Executor      flow.Flow
	MemoryRead    flow.Flow
	MemoryWrite   flow.Flow
	HumanFeedback flow.Flow
}

// New 把控制器、执行器、记忆与人工反馈装配成一个循环流：
//
//	memory_read -> controller -> executor -> memory_write -> human_feedback
//
// 任一子流输出 finished 真值时循环提前结束。
func New(cfg Config) (*flow.CircularFlow, error) {
	if cfg.Controller == nil || cfg.Executor == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "自治循环缺少控制器或执行器")
	}
	name := cfg.Name
	if name == "" {
		name = "autogpt"
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}

	subflows := map[string]flow.Flow{
		WireController: cfg.Controller,
		WireExecutor:   cfg.Executor,
	}
	var order []string
	if cfg.MemoryRead != nil {
		subflows[WireMemoryRead] = cfg.MemoryRead
		order = append(order, WireMemoryRead)
	}
	order = append(order, WireController, WireExecutor)
	if cfg.MemoryWrite != nil {
		subflows[WireMemoryWrite] = cfg.MemoryWrite
		order = append(order, WireMemoryWrite)
	}
	if cfg.HumanFeedback != nil {
		subflows[WireHumanFeedback] = cfg.HumanFeedback
		order = append(order, WireHumanFeedback)
	}

	return flow.NewCircularFlow(
		flow.NewBase(name, cfg.Description, []string{"goal"},
			[]string{tools.AnswerKey, tools.FinishedKey, flow.RoundsKey, "thought", tools.ObservationKey}),
		order,
		subflows,
		maxRounds,
		tools.FinishedKey,
	)
}
