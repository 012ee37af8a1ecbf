package autogpt

import (
	"context"
	"strings"

	"AgentFlows/internal/flow"
	"AgentFlows/internal/flowcfg"
	"AgentFlows/internal/tools"
)

// 人工反馈在工作数据中使用的键。
const KeyHumanFeedback = "human_feedback"

// 用户输入这些内容时终止整个推理循环。
var terminateInputs = map[string]bool{"q": true, "stop": true}

// TerminatedAnswer 是用户主动终止时交付的答案文本。
const TerminatedAnswer = "Flow run terminated by user."

// HumanFeedbackFlow 在每轮循环末尾征询用户意见。反馈文本会在下一轮
// 注入控制器提示词；输入 q 或 stop 则立即终止循环。
// 回调为空时该环节自动跳过，适合无人值守部署。
type HumanFeedbackFlow struct {
	flow.Base
	feedback flowcfg.FeedbackFunc
}

// NewHumanFeedbackFlow 创建人工反馈流。
func NewHumanFeedbackFlow(name, description string, feedback flowcfg.FeedbackFunc) *HumanFeedbackFlow {
	if name == "" {
		name = "human_feedback"
	}
	return &HumanFeedbackFlow{
		Base:     flow.NewBase(name, description, nil, nil),
		feedback: feedback,
	}
}

// Run 实现 flow.Flow 接口。
func (f *HumanFeedbackFlow) Run(ctx context.Context, input flow.Data) (flow.Data, error) {
	if f.feedback == nil {
		return flow.Data{KeyHumanFeedback: ""}, nil
	}

	question := input.String("speak")
	if question == "" {
		question = input.String("observation")
	}
	reply, err := f.feedback(ctx, question)
	if err != nil {
		return nil, err
	}

	normalized := strings.ToLower(strings.TrimSpace(reply))
	if terminateInputs[normalized] {
		return flow.Data{
			KeyHumanFeedback:  "",
			tools.FinishedKey: true,
			tools.AnswerKey:   TerminatedAnswer,
		}, nil
	}
	return flow.Data{KeyHumanFeedback: reply}, nil
}

var _ flow.Flow = (*HumanFeedbackFlow)(nil)
