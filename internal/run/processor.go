package run

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/observability/alerting"
	"AgentFlows/internal/observability/metrics"
	"AgentFlows/pkg/logger"
)

// Processor 负责从队列消费运行并交给启动器执行。
type Processor struct {
	launcher    Launcher
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(launcher Launcher, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		launcher:    launcher,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动运行处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.launcher == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	record, err := p.store.Claim(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, ErrRunNotFound) || stdErrors.Is(err, ErrRunCompleted) || stdErrors.Is(err, ErrRunExhausted) {
			p.logDebug("跳过运行", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取运行失败", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Run{ID: runID}, CodeRunProcessing, err, "claim")
		return err
	}

	started := time.Now()
	result, execErr := p.launcher.Launch(ctx, Request{
		ID:        record.ID,
		Goal:      record.Goal,
		FlowName:  record.FlowName,
		SessionID: record.SessionID,
		Metadata:  cloneMetadata(record.Metadata),
	})
	if execErr != nil {
		metrics.ObserveRunOutcome(string(StatusFailed), time.Since(started), 0)
		return p.handleExecutionFailure(ctx, record, execErr)
	}

	var resolved Result
	if result != nil {
		resolved = *result
	}
	if err := p.store.MarkSucceeded(ctx, record.ID, resolved); err != nil {
		logger.L().Error("标记运行成功状态失败", slog.Any("error", err), slog.String("run_id", record.ID))
		if storeErr := p.store.MarkFailed(ctx, record.ID, CodeRunProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("run_id", record.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 在标记成功失败后重投失败", record.ID))
		}
		logger.Audit().Warn("运行标记成功失败后重试",
			slog.String("run_id", record.ID),
			slog.String("goal", record.Goal),
			slog.String("error", err.Error()),
		)
		return nil
	}
	metrics.ObserveRunOutcome(string(StatusSucceeded), time.Since(started), resolved.Rounds)
	logger.Audit().Info("运行执行成功",
		slog.String("run_id", record.ID),
		slog.String("goal", record.Goal),
		slog.Int("rounds", resolved.Rounds),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, record *Run, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeRunProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := record.Attempts >= record.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, record, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeRunCompensate, recErr, "运行补偿失败")
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", wrapped),
				slog.String("run_id", record.ID))
			p.emitAlert(ctx, record, CodeRunCompensate, wrapped, "compensate")
		} else if fallback != nil {
			if fallback.Observations == "" {
				fallback.Observations = fmt.Sprintf("降级处理: %v", execErr)
			}
			if err := p.store.MarkSucceeded(ctx, record.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("run_id", record.ID))
				if storeErr := p.store.MarkFailed(ctx, record.ID, code, err.Error(), false); storeErr != nil {
					logger.L().Error("降级失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("run_id", record.ID))
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
					return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 在降级失败后重投失败", record.ID))
				}
				return nil
			}
			logger.Audit().Warn("运行降级完成",
				slog.String("run_id", record.ID),
				slog.String("goal", record.Goal),
				slog.String("observations", fallback.Observations),
			)
			p.emitAlert(ctx, record, code, execErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, record.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记运行失败状态出错", slog.Any("error", storeErr), slog.String("run_id", record.ID))
		return storeErr
	}
	logger.Audit().Warn("运行执行失败",
		slog.String("run_id", record.ID),
		slog.String("goal", record.Goal),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", record.Attempts),
		slog.Int("max_retries", record.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, record, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
			return xerrors.Wrap(CodeRunPublish, pubErr, fmt.Sprintf("运行 %s 重投失败", record.ID))
		}
		p.logDebug("运行已重新排队", slog.String("run_id", record.ID), slog.Int("attempts", record.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, record *Run, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || record == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RunID:      record.ID,
		Attempts:   record.Attempts,
		MaxRetries: record.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("run_id", record.ID),
			slog.String("stage", stage),
		)
	}
}
