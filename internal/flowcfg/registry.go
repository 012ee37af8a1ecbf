package flowcfg

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
	"AgentFlows/internal/llm"
	"AgentFlows/internal/memory"
)

// FeedbackFunc 在人工反馈环节向用户征询意见。返回的文本会并入工作数据。
type FeedbackFunc func(ctx context.Context, prompt string) (string, error)

// Dependencies 是工厂实例化流时可用的外部依赖。
// 字段允许为空，具体工厂负责校验自己需要的依赖是否就绪。
type Dependencies struct {
	// Registry 供组合流工厂递归实例化子流。
	Registry *Registry
	// Backends 按名称索引已配置的大模型后端。
	Backends map[string]llm.Backend
	// Memory 是对话记忆存储。
	Memory memory.Store
	// Feedback 是人工反馈回调，为空时反馈环节自动跳过。
	Feedback FeedbackFunc
	// HTTPClient 供工具流访问外部服务，为空时使用默认客户端。
	HTTPClient *http.Client
}

// Backend 按名称解析后端引用。
func (d Dependencies) Backend(name string) (llm.Backend, error) {
	backend, ok := d.Backends[name]
	if !ok || backend == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig,
			fmt.Sprintf("未配置名为 %q 的模型后端", name))
	}
	return backend, nil
}

// Factory 根据配置与依赖构造一个流实例。
type Factory func(cfg *Config, deps Dependencies) (flow.Flow, error)

// Registry 维护流类型到工厂的映射。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建空注册表并注册核心流类型。
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	registerCore(r)
	return r
}

// Register 注册一个流类型工厂。重复注册同名类型返回错误。
func (r *Registry) Register(target string, factory Factory) error {
	if target == "" || factory == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "流类型与工厂不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[target]; exists {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("流类型 %q 已注册", target))
	}
	r.factories[target] = factory
	return nil
}

// Targets 返回已注册的流类型，按字典序排列。
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]string, 0, len(r.factories))
	for target := range r.factories {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Build 根据配置递归实例化流。
func (r *Registry) Build(cfg *Config, deps Dependencies) (flow.Flow, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "流配置为空")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.factories[cfg.Target]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeFlowConfig,
			fmt.Sprintf("未注册的流类型 %q", cfg.Target))
	}
	if deps.Registry == nil {
		deps.Registry = r
	}
	built, err := factory(cfg, deps)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowConfig, err,
			fmt.Sprintf("实例化流失败 (%s)", cfg.Summary()))
	}
	return built, nil
}

// BuildSubflows 实例化配置中声明的全部子流，返回布线键到实例的映射。
func (r *Registry) BuildSubflows(cfg *Config, deps Dependencies) (map[string]flow.Flow, error) {
	subflows := make(map[string]flow.Flow, len(cfg.Subflows))
	keys := make([]string, 0, len(cfg.Subflows))
	for key := range cfg.Subflows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sub, err := r.Build(cfg.Subflows[key], deps)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeFlowConfig, err,
				fmt.Sprintf("实例化子流 %q 失败", key))
		}
		subflows[key] = sub
	}
	return subflows, nil
}

// subflowOrder 返回组合流的执行顺序，未显式配置时按布线键排序。
func subflowOrder(cfg *Config) []string {
	if len(cfg.Order) > 0 {
		return cfg.Order
	}
	order := make([]string, 0, len(cfg.Subflows))
	for key := range cfg.Subflows {
		order = append(order, key)
	}
	sort.Strings(order)
	return order
}

// registerCore 注册不依赖外部服务的核心流类型。
func registerCore(r *Registry) {
	r.factories["fixed_reply"] = func(cfg *Config, _ Dependencies) (flow.Flow, error) {
		return flow.NewFixedReplyFlow(
			cfg.Name,
			cfg.Description,
			cfg.ParamString("fixed_reply", ""),
			cfg.ParamString("output_key", ""),
		)
	}
	r.factories["sequential"] = func(cfg *Config, deps Dependencies) (flow.Flow, error) {
		subflows, err := deps.Registry.BuildSubflows(cfg, deps)
		if err != nil {
			return nil, err
		}
		return flow.NewSequentialFlow(
			flow.NewBase(cfg.Name, cfg.Description, cfg.InputKeys, cfg.OutputKeys),
			subflowOrder(cfg),
			subflows,
		)
	}
	r.factories["circular"] = func(cfg *Config, deps Dependencies) (flow.Flow, error) {
		subflows, err := deps.Registry.BuildSubflows(cfg, deps)
		if err != nil {
			return nil, err
		}
		return flow.NewCircularFlow(
			flow.NewBase(cfg.Name, cfg.Description, cfg.InputKeys, cfg.OutputKeys),
			subflowOrder(cfg),
			subflows,
			cfg.ParamInt("max_rounds", 10),
			cfg.ParamString("early_exit_key", ""),
		)
	}
}
