package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"AgentFlows/internal/controller"
	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
	"AgentFlows/internal/tools"
)

// Flow 根据控制器的决策把命令分发到对应的工具子流。
// 未知命令不会中断循环，而是把错误作为观察结果交还给控制器，
// 让模型在下一轮自行修正。
type Flow struct {
	flow.Base
	branches map[string]flow.Flow
}

// New 创建执行器流。branches 的键是命令名。
func New(name, description string, branches map[string]flow.Flow) (*Flow, error) {
	if len(branches) == 0 {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "执行器至少需要一个命令分支")
	}
	if name == "" {
		name = "executor"
	}
	return &Flow{
		Base:     flow.NewBase(name, description, []string{controller.KeyCommand}, nil),
		branches: branches,
	}, nil
}

// Commands 返回执行器支持的命令名，按字典序排列。
func (f *Flow) Commands() []string {
	names := make([]string, 0, len(f.branches))
	for name := range f.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 实现 flow.Flow 接口。
func (f *Flow) Run(ctx context.Context, input flow.Data) (flow.Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}
	command := input.String(controller.KeyCommand)

	branch, ok := f.branches[command]
	if !ok {
		return flow.Data{
			tools.ObservationKey: fmt.Sprintf(
				"Unknown command %q. Available commands: %s.",
				command, strings.Join(f.Commands(), ", ")),
		}, nil
	}

	args := flow.Data{}
	if raw, ok := input[controller.KeyCommandArgs].(map[string]any); ok {
		for k, v := range raw {
			args[k] = v
		}
	}

	out, err := branch.Run(ctx, args)
	if err != nil {
		// 工具失败同样交还给控制器，让模型决定换个思路。
		return flow.Data{
			tools.ObservationKey: fmt.Sprintf("Command %q failed: %v", command, err),
		}, nil
	}
	if _, ok := out[tools.ObservationKey]; !ok {
		out = out.Clone()
		out[tools.ObservationKey] = out.String(tools.AnswerKey)
	}
	return out, nil
}

// Reset 重置自身与全部分支的状态。
func (f *Flow) Reset() {
	f.Base.Reset()
	for _, branch := range f.branches {
		branch.Reset()
	}
}

var _ flow.Flow = (*Flow)(nil)
