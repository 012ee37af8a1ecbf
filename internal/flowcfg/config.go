package flowcfg

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "AgentFlows/internal/errors"
)

// Config 是单个流的声明式配置，支持任意深度的子流嵌套。
// 未知字段会在解析阶段被拒绝，避免拼写错误静默生效。
type Config struct {
	// Target 选择要实例化的流类型，对应注册表中的工厂名。
	Target string `yaml:"_target_"`
	// Name 与 Description 用于日志与提示词渲染。
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// InputKeys 与 OutputKeys 声明流的数据接口。
	InputKeys  []string `yaml:"input_keys"`
	OutputKeys []string `yaml:"output_keys"`
	// Params 承载流类型各自的参数，由工厂解释。
	Params map[string]any `yaml:"params"`
	// Order 指定组合流中子流的执行顺序。
	Order []string `yaml:"order"`
	// Subflows 按布线键声明子流配置。
	Subflows map[string]*Config `yaml:"subflows"`
}

// Document 是流配置文件的顶层结构。InputInterface 与 OutputInterface
// 为可选的键列表，由启动器在运行前后筛选传入与传出的数据。
type Document struct {
	Flow            *Config  `yaml:"flow"`
	InputInterface  []string `yaml:"input_interface"`
	OutputInterface []string `yaml:"output_interface"`
}

// Load 从文件读取并解析流配置，只返回 flow 节点。
func Load(path string) (*Config, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return doc.Flow, nil
}

// LoadDocument 从文件读取并解析完整的流配置文档。
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowConfig, err,
			fmt.Sprintf("读取流配置文件失败: %s", path))
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowConfig, err,
			fmt.Sprintf("解析流配置文件失败: %s", path))
	}
	return doc, nil
}

// Parse 解析流配置文档，只返回 flow 节点。
func Parse(data []byte) (*Config, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.Flow, nil
}

// ParseDocument 解析完整的流配置文档。未知字段视为错误。
func ParseDocument(data []byte) (*Document, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFlowConfig, err, "流配置不是合法的 YAML 文档")
	}
	if doc.Flow == nil {
		return nil, xerrors.New(xerrors.CodeFlowConfig, "流配置缺少顶层 flow 节点")
	}
	if err := doc.Flow.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate 递归校验配置的结构完整性。
func (c *Config) Validate() error {
	if c.Target == "" {
		return xerrors.New(xerrors.CodeFlowConfig, "流配置缺少 _target_ 字段")
	}
	for _, key := range c.Order {
		if c.Subflows[key] == nil {
			return xerrors.New(xerrors.CodeFlowConfig,
				fmt.Sprintf("order 引用了不存在的子流 %q", key))
		}
	}
	keys := make([]string, 0, len(c.Subflows))
	for key := range c.Subflows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sub := c.Subflows[key]
		if sub == nil {
			return xerrors.New(xerrors.CodeFlowConfig,
				fmt.Sprintf("子流 %q 的配置为空", key))
		}
		if err := sub.Validate(); err != nil {
			return xerrors.Wrap(xerrors.CodeFlowConfig, err,
				fmt.Sprintf("子流 %q 配置无效", key))
		}
	}
	return nil
}

// Clone 返回配置的深拷贝，Merge 之前使用以避免污染默认值。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := &Config{
		Target:      c.Target,
		Name:        c.Name,
		Description: c.Description,
		InputKeys:   append([]string(nil), c.InputKeys...),
		OutputKeys:  append([]string(nil), c.OutputKeys...),
		Order:       append([]string(nil), c.Order...),
		Params:      cloneMap(c.Params),
	}
	if c.Subflows != nil {
		clone.Subflows = make(map[string]*Config, len(c.Subflows))
		for key, sub := range c.Subflows {
			clone.Subflows[key] = sub.Clone()
		}
	}
	return clone
}

// Merge 把 overrides 深度合并进默认配置并返回新配置。
// 标量与列表直接覆盖，映射递归合并，子流按布线键递归合并。
func Merge(defaults, overrides *Config) *Config {
	if defaults == nil {
		return overrides.Clone()
	}
	merged := defaults.Clone()
	if overrides == nil {
		return merged
	}
	if overrides.Target != "" {
		merged.Target = overrides.Target
	}
	if overrides.Name != "" {
		merged.Name = overrides.Name
	}
	if overrides.Description != "" {
		merged.Description = overrides.Description
	}
	if overrides.InputKeys != nil {
		merged.InputKeys = append([]string(nil), overrides.InputKeys...)
	}
	if overrides.OutputKeys != nil {
		merged.OutputKeys = append([]string(nil), overrides.OutputKeys...)
	}
	if overrides.Order != nil {
		merged.Order = append([]string(nil), overrides.Order...)
	}
	merged.Params = mergeMap(merged.Params, overrides.Params)
	for key, sub := range overrides.Subflows {
		if merged.Subflows == nil {
			merged.Subflows = make(map[string]*Config)
		}
		merged.Subflows[key] = Merge(merged.Subflows[key], sub)
	}
	return merged
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			clone[k] = cloneMap(nested)
			continue
		}
		clone[k] = v
	}
	return clone
}

func mergeMap(dst, src map[string]any) map[string]any {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		srcNested, srcOK := v.(map[string]any)
		dstNested, dstOK := dst[k].(map[string]any)
		if srcOK && dstOK {
			dst[k] = mergeMap(dstNested, srcNested)
			continue
		}
		if srcOK {
			dst[k] = cloneMap(srcNested)
			continue
		}
		dst[k] = v
	}
	return dst
}

// ParamString 读取字符串参数，缺失时返回默认值。
func (c *Config) ParamString(key, fallback string) string {
	if c == nil || c.Params == nil {
		return fallback
	}
	if v, ok := c.Params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ParamInt 读取整型参数，缺失或类型不符时返回默认值。
func (c *Config) ParamInt(key string, fallback int) int {
	if c == nil || c.Params == nil {
		return fallback
	}
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// ParamFloat 读取浮点参数，缺失或类型不符时返回默认值。
func (c *Config) ParamFloat(key string, fallback float64) float64 {
	if c == nil || c.Params == nil {
		return fallback
	}
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

// ParamStringSlice 读取字符串列表参数。
func (c *Config) ParamStringSlice(key string) []string {
	if c == nil || c.Params == nil {
		return nil
	}
	raw, ok := c.Params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}

// ParamMap 读取映射参数。
func (c *Config) ParamMap(key string) map[string]any {
	if c == nil || c.Params == nil {
		return nil
	}
	if v, ok := c.Params[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Summary 返回用于日志的单行描述。
func (c *Config) Summary() string {
	parts := []string{"target=" + c.Target}
	if c.Name != "" {
		parts = append(parts, "name="+c.Name)
	}
	if len(c.Subflows) > 0 {
		parts = append(parts, fmt.Sprintf("subflows=%d", len(c.Subflows)))
	}
	return strings.Join(parts, " ")
}
