package run

import "context"

// RecoveryHandler 定义了在流运行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 Result 将作为降级结果写入运行；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, run *Run, cause error) (*Result, error)
}

// RecoveryFunc 允许用函数直接实现 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, run *Run, cause error) (*Result, error)

// Recover 实现 RecoveryHandler 接口。
func (f RecoveryFunc) Recover(ctx context.Context, run *Run, cause error) (*Result, error) {
	return f(ctx, run, cause)
}
