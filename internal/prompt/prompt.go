package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	xerrors "AgentFlows/internal/errors"
)

// Template 是提示词模板，使用 {{variable}} 形式的占位符。
// InputVariables 声明渲染时必须提供的变量，PartialVariables
// 在构造时即绑定、渲染时自动注入。
type Template struct {
	Text             string
	InputVariables   []string
	PartialVariables map[string]string
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// New 创建模板并校验占位符与变量声明一致。
func New(text string, inputVariables []string, partialVariables map[string]string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "提示词模板内容不能为空")
	}
	tpl := &Template{
		Text:             text,
		InputVariables:   inputVariables,
		PartialVariables: partialVariables,
	}
	declared := make(map[string]bool, len(inputVariables)+len(partialVariables))
	for _, name := range inputVariables {
		declared[name] = true
	}
	for name := range partialVariables {
		declared[name] = true
	}
	var undeclared []string
	for _, name := range tpl.Placeholders() {
		if !declared[name] {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("模板占位符未声明为变量: %s", strings.Join(undeclared, ", ")))
	}
	return tpl, nil
}

// Placeholders 返回模板中出现的全部占位符名称，去重并排序。
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	for _, match := range placeholderPattern.FindAllStringSubmatch(t.Text, -1) {
		seen[match[1]] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render 用给定变量渲染模板。缺少声明过的输入变量时返回错误。
func (t *Template) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, name := range t.InputVariables {
		if _, ok := vars[name]; !ok {
			if _, partial := t.PartialVariables[name]; !partial {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("渲染模板缺少变量: %s", strings.Join(missing, ", ")))
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(t.Text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := t.PartialVariables[name]; ok {
			return v
		}
		return match
	})
	return rendered, nil
}

// MustRender 与 Render 相同，但出错时 panic。仅用于测试与静态模板。
func (t *Template) MustRender(vars map[string]string) string {
	rendered, err := t.Render(vars)
	if err != nil {
		panic(err)
	}
	return rendered
}

// FromConfig 从流配置的参数映射构造模板。期望的结构：
//
//	template: "...{{goal}}..."
//	input_variables: [goal]
//	partial_variables: {tools: "..."}
func FromConfig(raw map[string]any) (*Template, error) {
	if raw == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "提示词模板配置为空")
	}
	text, _ := raw["template"].(string)

	var inputVars []string
	if list, ok := raw["input_variables"].([]any); ok {
		for _, item := range list {
			inputVars = append(inputVars, fmt.Sprintf("%v", item))
		}
	}

	var partials map[string]string
	if m, ok := raw["partial_variables"].(map[string]any); ok {
		partials = make(map[string]string, len(m))
		for k, v := range m {
			partials[k] = fmt.Sprintf("%v", v)
		}
	}
	return New(text, inputVars, partials)
}
