package run

import (
	"context"
	"log/slog"
	"time"

	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
	"AgentFlows/internal/flowcfg"
	"AgentFlows/pkg/logger"
)

// Launcher 定义了处理器所需的流执行能力。
type Launcher interface {
	Launch(ctx context.Context, req Request) (*Result, error)
}

// FlowLauncher 根据命名的流配置实例化并运行流。每次运行都构建全新的
// 流实例，保证运行之间互不串扰。容错模式下单次运行内部还会按配置重试。
type FlowLauncher struct {
	registry      *flowcfg.Registry
	deps          flowcfg.Dependencies
	documents     map[string]*flowcfg.Document
	defaultFlow   string
	batchRetries  int
	retryInterval time.Duration
	runTimeout    time.Duration
	maxRounds     int
}

// LauncherConfig 聚合 FlowLauncher 的构造参数。
type LauncherConfig struct {
	Registry *flowcfg.Registry
	Deps     flowcfg.Dependencies
	// Configs 按流名称索引可启动的流配置文档。
	Configs map[string]*flowcfg.Document
	// DefaultFlow 是请求未指定流名称时的回退选择。
	DefaultFlow string
	// BatchRetries 是容错模式下单次运行内部的最大尝试次数。
	BatchRetries int
	// RetryInterval 是两次尝试之间的等待时间。
	RetryInterval time.Duration
	// RunTimeout 限制单次尝试的执行时长，0 表示不限制。
	RunTimeout time.Duration
	// MaxRounds 非零时覆盖流配置中的 max_rounds 参数。
	MaxRounds int
}

// NewFlowLauncher 创建流启动器。
func NewFlowLauncher(cfg LauncherConfig) (*FlowLauncher, error) {
	if cfg.Registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "启动器缺少流注册表")
	}
	if len(cfg.Configs) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "启动器缺少可用的流配置")
	}
	for name, doc := range cfg.Configs {
		if doc == nil || doc.Flow == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "流配置文档为空: "+name)
		}
	}
	defaultFlow := cfg.DefaultFlow
	if defaultFlow == "" && len(cfg.Configs) == 1 {
		for name := range cfg.Configs {
			defaultFlow = name
		}
	}
	if _, ok := cfg.Configs[defaultFlow]; !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "默认流配置不存在")
	}
	batchRetries := cfg.BatchRetries
	if batchRetries <= 0 {
		batchRetries = 1
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 2 * time.Second
	}
	return &FlowLauncher{
		registry:      cfg.Registry,
		deps:          cfg.Deps,
		documents:     cfg.Configs,
		defaultFlow:   defaultFlow,
		batchRetries:  batchRetries,
		retryInterval: retryInterval,
		runTimeout:    cfg.RunTimeout,
		maxRounds:     cfg.MaxRounds,
	}, nil
}

// Flows 返回可启动的流名称。
func (l *FlowLauncher) Flows() []string {
	names := make([]string, 0, len(l.documents))
	for name := range l.documents {
		names = append(names, name)
	}
	return names
}

// Launch 实现 Launcher 接口。
func (l *FlowLauncher) Launch(ctx context.Context, req Request) (*Result, error) {
	flowName := req.FlowName
	if flowName == "" {
		flowName = l.defaultFlow
	}
	doc, ok := l.documents[flowName]
	if !ok {
		return nil, xerrors.New(CodeRunValidation, "未找到流配置: "+flowName)
	}

	cfg := doc.Flow
	if l.maxRounds > 0 {
		cfg = flowcfg.Merge(cfg, &flowcfg.Config{Params: map[string]any{"max_rounds": l.maxRounds}})
	}

	built, err := l.registry.Build(cfg, l.deps)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.ID
	}
	input := flow.Data{
		"goal":       req.Goal,
		"session_id": sessionID,
	}
	for key, value := range req.Metadata {
		if _, exists := input[key]; !exists {
			input[key] = value
		}
	}
	input = flow.Select(input, doc.InputInterface)

	var out flow.Data
	for attempt := 1; attempt <= l.batchRetries; attempt++ {
		out, err = l.runOnce(ctx, built, input.Clone())
		if err == nil {
			break
		}
		if attempt == l.batchRetries || ctx.Err() != nil {
			return nil, err
		}
		logger.L().Warn("流运行失败，准备重试",
			slog.String("flow", flowName),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		built.Reset()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	out = flow.Select(out, doc.OutputInterface)
	result := &Result{
		Answer:       out.String("answer"),
		Thought:      out.String("thought"),
		Observations: out.String("observation"),
	}
	if rounds, ok := out[flow.RoundsKey].(int); ok {
		result.Rounds = rounds
	}
	return result, nil
}

// runOnce 执行一次尝试，按配置附加单次超时。
func (l *FlowLauncher) runOnce(ctx context.Context, built flow.Flow, input flow.Data) (flow.Data, error) {
	if l.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.runTimeout)
		defer cancel()
	}
	return built.Run(ctx, input)
}

var _ Launcher = (*FlowLauncher)(nil)
