package tools

import (
	"context"

	"AgentFlows/internal/flow"
)

// FinishedKey 标记目标已完成，循环流据此提前退出。
const FinishedKey = "finished"

// AnswerKey 承载最终答案。
const AnswerKey = "answer"

// FinishFlow 结束整个推理循环并交付最终答案。
type FinishFlow struct {
	flow.Base
}

// NewFinishFlow 创建结束工具流。
func NewFinishFlow(name, description string) *FinishFlow {
	if name == "" {
		name = "finish"
	}
	return &FinishFlow{
		Base: flow.NewBase(name, description, []string{AnswerKey}, []string{AnswerKey, FinishedKey, ObservationKey}),
	}
}

// Run 实现 flow.Flow 接口。
func (f *FinishFlow) Run(_ context.Context, input flow.Data) (flow.Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}
	answer := input.String(AnswerKey)
	return flow.Data{
		AnswerKey:      answer,
		FinishedKey:    true,
		ObservationKey: "Goal accomplished. Final answer: " + answer,
	}, nil
}

var _ flow.Flow = (*FinishFlow)(nil)
