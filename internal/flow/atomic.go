package flow

import (
	"context"

	xerrors "AgentFlows/internal/errors"
)

// DefaultFixedReplyKey 是固定回复流默认的输出键。
const DefaultFixedReplyKey = "fixed_reply"

// FixedReplyFlow 是最简单的原子流：无论输入如何都返回配置好的固定回复。
// 常用于测试组合流的布线，或在流水线中充当占位评审者。
type FixedReplyFlow struct {
	Base
	reply     string
	outputKey string
}

// NewFixedReplyFlow 创建固定回复流。outputKey 为空时使用默认键。
func NewFixedReplyFlow(name, description, reply, outputKey string) (*FixedReplyFlow, error) {
	if reply == "" {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "固定回复流必须配置 fixed_reply")
	}
	if outputKey == "" {
		outputKey = DefaultFixedReplyKey
	}
	return &FixedReplyFlow{
		Base:      NewBase(name, description, nil, []string{outputKey}),
		reply:     reply,
		outputKey: outputKey,
	}, nil
}

// Reply 返回配置的固定回复内容。
func (f *FixedReplyFlow) Reply() string { return f.reply }

// Run 实现 Flow 接口。
func (f *FixedReplyFlow) Run(_ context.Context, _ Data) (Data, error) {
	return Data{f.outputKey: f.reply}, nil
}

var _ Flow = (*FixedReplyFlow)(nil)
