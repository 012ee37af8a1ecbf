package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
	"AgentFlows/internal/llm"
	"AgentFlows/internal/prompt"
)

// 控制器在工作数据中读写的键。
const (
	KeyGoal        = "goal"
	KeyObservation = "observation"
	KeyMemory      = "memory"
	KeyFeedback    = "human_feedback"
	KeyCommand     = "command"
	KeyCommandArgs = "command_args"
	KeyThought     = "thought"
	KeySpeak       = "speak"
)

// CommandSpec 描述控制器可以选择的一个命令。
type CommandSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputArgs   []string `json:"input_args"`
}

// Decision 是控制器每轮输出的结构化决策。
type Decision struct {
	Thought     string         `json:"thought"`
	Reasoning   string         `json:"reasoning"`
	Plan        []string       `json:"plan"`
	Criticism   string         `json:"criticism"`
	Speak       string         `json:"speak"`
	Command     string         `json:"command"`
	CommandArgs map[string]any `json:"command_args"`
}

// Flow 每轮调用大模型，决定下一个要执行的命令及其参数。
// 对话历史保存在流状态中，Reset 后从头开始。
type Flow struct {
	flow.Base
	backend        llm.Backend
	systemTemplate *prompt.Template
	humanTemplate  *prompt.Template
	commands       []CommandSpec
}

// Config 聚合控制器的构造参数。
type Config struct {
	Name           string
	Description    string
	Backend        llm.Backend
	SystemTemplate *prompt.Template
	HumanTemplate  *prompt.Template
	Commands       []CommandSpec
}

// New 创建控制器流。
func New(cfg Config) (*Flow, error) {
	if cfg.Backend == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "控制器缺少模型后端")
	}
	if cfg.SystemTemplate == nil || cfg.HumanTemplate == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "控制器缺少提示词模板")
	}
	if len(cfg.Commands) == 0 {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "控制器至少需要一个可用命令")
	}
	name := cfg.Name
	if name == "" {
		name = "controller"
	}
	return &Flow{
		Base:           flow.NewBase(name, cfg.Description, []string{KeyGoal}, nil),
		backend:        cfg.Backend,
		systemTemplate: cfg.SystemTemplate,
		humanTemplate:  cfg.HumanTemplate,
		commands:       cfg.Commands,
	}, nil
}

// Commands 返回控制器可选择的命令列表。
func (f *Flow) Commands() []CommandSpec { return f.commands }

// Run 实现 flow.Flow 接口。
func (f *Flow) Run(ctx context.Context, input flow.Data) (flow.Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}

	systemMsg, err := f.systemTemplate.Render(map[string]string{
		"commands": RenderCommands(f.commands),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowFailure, err, "渲染控制器系统提示词失败")
	}
	humanMsg, err := f.humanTemplate.Render(map[string]string{
		"goal":           input.String(KeyGoal),
		"observation":    input.String(KeyObservation),
		"memory":         input.String(KeyMemory),
		"human_feedback": input.String(KeyFeedback),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowFailure, err, "渲染控制器用户提示词失败")
	}

	messages := append([]llm.Message{llm.System(systemMsg)}, f.history()...)
	messages = append(messages, llm.User(humanMsg))

	reply, err := f.backend.Chat(ctx, messages)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "控制器调用模型失败")
	}

	decision, parseErr := ParseDecision(reply)
	if parseErr != nil {
		// 给模型一次修正的机会，再失败就报错。
		retry := append(messages, llm.Assistant(reply), llm.User(
			"Your previous response was not valid JSON. "+
				"Respond again with exactly one JSON object matching the required schema and nothing else."))
		reply, err = f.backend.Chat(ctx, retry)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "控制器重试调用模型失败")
		}
		decision, parseErr = ParseDecision(reply)
		if parseErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeFlowFailure, parseErr, "控制器输出无法解析为决策")
		}
	}

	f.appendHistory(llm.User(humanMsg), llm.Assistant(reply))

	return flow.Data{
		KeyCommand:     decision.Command,
		KeyCommandArgs: decision.CommandArgs,
		KeyThought:     decision.Thought,
		KeySpeak:       decision.Speak,
	}, nil
}

func (f *Flow) history() []llm.Message {
	if v, ok := f.StateGet("history"); ok {
		if history, ok := v.([]llm.Message); ok {
			return history
		}
	}
	return nil
}

func (f *Flow) appendHistory(messages ...llm.Message) {
	f.StateSet("history", append(f.history(), messages...))
}

// ParseDecision 解析模型回复为结构化决策，容忍 Markdown 代码围栏。
func ParseDecision(reply string) (*Decision, error) {
	cleaned := stripCodeFence(reply)
	var decision Decision
	if err := json.Unmarshal([]byte(cleaned), &decision); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowFailure, err, "决策不是合法的 JSON")
	}
	if strings.TrimSpace(decision.Command) == "" {
		return nil, xerrors.New(xerrors.CodeFlowFailure, "决策缺少 command 字段")
	}
	return &decision, nil
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// RenderCommands 把命令列表渲染成提示词中可读的说明文本。
func RenderCommands(commands []CommandSpec) string {
	var builder strings.Builder
	for i, cmd := range commands {
		if i > 0 {
			builder.WriteString("\n")
		}
		args := "none"
		if len(cmd.InputArgs) > 0 {
			args = strings.Join(cmd.InputArgs, ", ")
		}
		builder.WriteString(fmt.Sprintf("%d. %s: %s (args: %s)", i+1, cmd.Name, cmd.Description, args))
	}
	return builder.String()
}

var _ flow.Flow = (*Flow)(nil)
