package autogpt

import (
	"fmt"

	"AgentFlows/internal/controller"
	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/executor"
	"AgentFlows/internal/flow"
	"AgentFlows/internal/flowcfg"
	"AgentFlows/internal/memory"
	"AgentFlows/internal/prompt"
	"AgentFlows/internal/tools"
)

// RegisterBuiltins 把自治循环相关的流类型注册到配置注册表。
func RegisterBuiltins(r *flowcfg.Registry) error {
	factories := map[string]flowcfg.Factory{
		"controller":     controllerFactory,
		"executor":       executorFactory,
		"memory":         memoryFactory,
		"human_feedback": humanFeedbackFactory,
		"autogpt":        autogptFactory,
		"wiki_search":    wikiSearchFactory,
		"ddg_search":     ddgSearchFactory,
		"finish":         finishFactory,
	}
	for target, factory := range factories {
		if err := r.Register(target, factory); err != nil {
			return err
		}
	}
	return nil
}

func controllerFactory(cfg *flowcfg.Config, deps flowcfg.Dependencies) (flow.Flow, error) {
	backend, err := deps.Backend(cfg.ParamString("backend", "default"))
	if err != nil {
		return nil, err
	}
	systemTpl, err := prompt.FromConfig(cfg.ParamMap("system_prompt_template"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowConfig, err, "控制器系统提示词模板无效")
	}
	humanTpl, err := prompt.FromConfig(cfg.ParamMap("human_prompt_template"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowConfig, err, "控制器用户提示词模板无效")
	}
	commands, err := parseCommands(cfg)
	if err != nil {
		return nil, err
	}
	return controller.New(controller.Config{
		Name:           cfg.Name,
		Description:    cfg.Description,
		Backend:        backend,
		SystemTemplate: systemTpl,
		HumanTemplate:  humanTpl,
		Commands:       commands,
	})
}

// parseCommands 解析 commands 参数为命令描述列表。
func parseCommands(cfg *flowcfg.Config) ([]controller.CommandSpec, error) {
	raw, ok := cfg.Params["commands"].([]any)
	if !ok || len(raw) == 0 {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "控制器缺少 commands 参数")
	}
	commands := make([]controller.CommandSpec, 0, len(raw))
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, xerrors.New(xerrors.CodeFlowConfig,
				fmt.Sprintf("第 %d 个命令描述格式无效", i+1))
		}
		spec := controller.CommandSpec{}
		spec.Name, _ = entry["name"].(string)
		spec.Description, _ = entry["description"].(string)
		if args, ok := entry["input_args"].([]any); ok {
			for _, arg := range args {
				spec.InputArgs = append(spec.InputArgs, fmt.Sprintf("%v", arg))
			}
		}
		if spec.Name == "" {
			return nil, xerrors.New(xerrors.CodeFlowConfig,
				fmt.Sprintf("第 %d 个命令缺少 name", i+1))
		}
		commands = append(commands, spec)
	}
	return commands, nil
}

func executorFactory(cfg *flowcfg.Config, deps flowcfg.Dependencies) (flow.Flow, error) {
	branches, err := deps.Registry.BuildSubflows(cfg, deps)
	if err != nil {
		return nil, err
	}
	return executor.New(cfg.Name, cfg.Description, branches)
}

func memoryFactory(cfg *flowcfg.Config, deps flowcfg.Dependencies) (flow.Flow, error) {
	if deps.Memory == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "未配置记忆存储")
	}
	return memory.NewFlow(
		cfg.Name,
		cfg.Description,
		deps.Memory,
		cfg.ParamString("op", memory.OpRead),
		cfg.ParamInt("limit", 0),
	)
}

func humanFeedbackFactory(cfg *flowcfg.Config, deps flowcfg.Dependencies) (flow.Flow, error) {
	return NewHumanFeedbackFlow(cfg.Name, cfg.Description, deps.Feedback), nil
}

func autogptFactory(cfg *flowcfg.Config, deps flowcfg.Dependencies) (flow.Flow, error) {
	subflows, err := deps.Registry.BuildSubflows(cfg, deps)
	if err != nil {
		return nil, err
	}
	return New(Config{
		Name:          cfg.Name,
		Description:   cfg.Description,
		MaxRounds:     cfg.ParamInt("max_rounds", 0),
		Controller:    subflows[WireController],
		Executor:      subflows[WireExecutor],
		MemoryRead:    subflows[WireMemoryRead],
		MemoryWrite:   subflows[WireMemoryWrite],
		HumanFeedback: subflows[WireHumanFeedback],
	})
}

func wikiSearchFactory(cfg *flowcfg.Config, deps flowcfg.Dependencies) (flow.Flow, error) {
	return tools.NewWikiSearchFlow(
		cfg.Name,
		cfg.Description,
		cfg.ParamString("base_url", ""),
		deps.HTTPClient,
		cfg.ParamInt("result_limit", 0),
	), nil
}

func ddgSearchFactory(cfg *flowcfg.Config, deps flowcfg.Dependencies) (flow.Flow, error) {
	return tools.NewDDGSearchFlow(
		cfg.Name,
		cfg.Description,
		cfg.ParamString("base_url", ""),
		deps.HTTPClient,
		cfg.ParamInt("result_limit", 0),
	), nil
}

func finishFactory(cfg *flowcfg.Config, _ flowcfg.Dependencies) (flow.Flow, error) {
	return tools.NewFinishFlow(cfg.Name, cfg.Description), nil
}
