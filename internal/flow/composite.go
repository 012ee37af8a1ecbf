package flow

import (
	"context"
	"fmt"

	xerrors "AgentFlows/internal/errors"
)

// Composite 管理一组按布线键命名的子流，并保持执行顺序。
type Composite struct {
	Base
	order    []string
	subflows map[string]Flow
}

// NewComposite 创建组合流的公共部分。order 决定子流执行顺序。
func NewComposite(base Base, order []string, subflows map[string]Flow) (Composite, error) {
	if len(order) == 0 {
		return Composite{}, xerrors.New(xerrors.CodeFlowConfig, "组合流至少需要一个子流")
	}
	for _, key := range order {
		if subflows[key] == nil {
			return Composite{}, xerrors.New(xerrors.CodeFlowConfig,
				fmt.Sprintf("组合流缺少布线键 %q 对应的子流", key))
		}
	}
	return Composite{Base: base, order: order, subflows: subflows}, nil
}

// Subflow 按布线键返回子流。
func (c *Composite) Subflow(key string) (Flow, bool) {
	f, ok := c.subflows[key]
	return f, ok
}

// Order 返回子流的执行顺序。
func (c *Composite) Order() []string { return c.order }

// Reset 重置自身与全部子流的状态。
func (c *Composite) Reset() {
	c.Base.Reset()
	for _, sub := range c.subflows {
		sub.Reset()
	}
}

// SequentialFlow 依次执行子流，把每个子流的输出合并进工作数据后传给下一个。
type SequentialFlow struct {
	Composite
}

// NewSequentialFlow 创建顺序组合流。
func NewSequentialFlow(base Base, order []string, subflows map[string]Flow) (*SequentialFlow, error) {
	composite, err := NewComposite(base, order, subflows)
	if err != nil {
		return nil, err
	}
	return &SequentialFlow{Composite: composite}, nil
}

// Run 实现 Flow 接口。
func (f *SequentialFlow) Run(ctx context.Context, input Data) (Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}
	working := input.Clone()
	for _, key := range f.order {
		sub := f.subflows[key]
		out, err := sub.Run(ctx, working)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeFlowFailure, err,
				fmt.Sprintf("子流 %s 执行失败", sub.Name()))
		}
		working.Merge(out)
	}
	return Select(working, f.OutputKeys()), nil
}

// CircularFlow 循环执行子流直到达到最大轮数，或工作数据中出现提前退出键。
type CircularFlow struct {
	Composite
	maxRounds    int
	earlyExitKey string
}

// RoundsKey 记录循环流实际执行的轮数。
const RoundsKey = "rounds"

// NewCircularFlow 创建循环组合流。
func NewCircularFlow(base Base, order []string, subflows map[string]Flow, maxRounds int, earlyExitKey string) (*CircularFlow, error) {
	composite, err := NewComposite(base, order, subflows)
	if err != nil {
		return nil, err
	}
	if maxRounds <= 0 {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "循环流的 max_rounds 必须大于 0")
	}
	return &CircularFlow{
		Composite:    composite,
		maxRounds:    maxRounds,
		earlyExitKey: earlyExitKey,
	}, nil
}

// MaxRounds 返回最大循环轮数。
func (f *CircularFlow) MaxRounds() int { return f.maxRounds }

// Run 实现 Flow 接口。
func (f *CircularFlow) Run(ctx context.Context, input Data) (Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}
	working := input.Clone()
	rounds := 0

	for round := 1; round <= f.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rounds = round
		exited := false
		for _, key := range f.order {
			sub := f.subflows[key]
			out, err := sub.Run(ctx, working)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeFlowFailure, err,
					fmt.Sprintf("第 %d 轮子流 %s 执行失败", round, sub.Name()))
			}
			working.Merge(out)
			if f.earlyExitKey != "" && working.Truthy(f.earlyExitKey) {
				exited = true
				break
			}
		}
		if exited {
			break
		}
	}

	working[RoundsKey] = rounds
	return Select(working, f.OutputKeys()), nil
}

var (
	_ Flow = (*SequentialFlow)(nil)
	_ Flow = (*CircularFlow)(nil)
)
