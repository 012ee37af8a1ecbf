package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xerrors "AgentFlows/internal/errors"
)

// Data 是流之间传递的载荷，键值对形式。
type Data map[string]any

// Clone 返回数据的浅拷贝。
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	clone := make(Data, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}

// Merge 将 other 中的键值覆盖合并到当前数据。
func (d Data) Merge(other Data) {
	for k, v := range other {
		d[k] = v
	}
}

// String 以字符串形式读取指定键，不存在时返回空串。
func (d Data) String(key string) string {
	if d == nil {
		return ""
	}
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Truthy 判断指定键是否存在且为"真"值，用于循环流的提前退出判断。
func (d Data) Truthy(key string) bool {
	if d == nil {
		return false
	}
	switch v := d[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}

// Select 按照给定键列表过滤数据。键列表为空时返回原数据。
func Select(d Data, keys []string) Data {
	if len(keys) == 0 {
		return d
	}
	out := make(Data, len(keys))
	for _, key := range keys {
		if v, ok := d[key]; ok {
			out[key] = v
		}
	}
	return out
}

// Flow 定义了一个可配置的行为单元，是系统的核心抽象。
type Flow interface {
	Name() string
	Description() string
	Run(ctx context.Context, input Data) (Data, error)
	Reset()
}

// FlowFunc 用函数直接实现无内部状态的流。
func FlowFunc(name, description string, run func(ctx context.Context, input Data) (Data, error)) Flow {
	return &funcFlow{name: name, description: description, run: run}
}

type funcFlow struct {
	name        string
	description string
	run         func(ctx context.Context, input Data) (Data, error)
}

func (f *funcFlow) Name() string        { return f.name }
func (f *funcFlow) Description() string { return f.description }
func (f *funcFlow) Reset()              {}

func (f *funcFlow) Run(ctx context.Context, input Data) (Data, error) {
	return f.run(ctx, input)
}

// Base 提供流的通用字段与状态管理，供具体流嵌入使用。
type Base struct {
	name        string
	description string
	inputKeys   []string
	outputKeys  []string

	mu    sync.Mutex
	state Data
}

// NewBase 创建流的基础部分。
func NewBase(name, description string, inputKeys, outputKeys []string) Base {
	return Base{
		name:        name,
		description: description,
		inputKeys:   inputKeys,
		outputKeys:  outputKeys,
		state:       Data{},
	}
}

// Name 返回流名称。
func (b *Base) Name() string { return b.name }

// Description 返回流描述。
func (b *Base) Description() string { return b.description }

// InputKeys 返回流声明的输入键。
func (b *Base) InputKeys() []string { return b.inputKeys }

// OutputKeys 返回流声明的输出键。
func (b *Base) OutputKeys() []string { return b.outputKeys }

// Reset 清空流的内部状态。
func (b *Base) Reset() {
	b.mu.Lock()
	b.state = Data{}
	b.mu.Unlock()
}

// StateGet 读取内部状态。
func (b *Base) StateGet(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.state[key]
	return v, ok
}

// StateSet 写入内部状态。
func (b *Base) StateSet(key string, value any) {
	b.mu.Lock()
	b.state[key] = value
	b.mu.Unlock()
}

// RequireInputs 校验输入数据包含流声明的全部输入键。
func (b *Base) RequireInputs(input Data) error {
	var missing []string
	for _, key := range b.inputKeys {
		if _, ok := input[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("流 %s 缺少输入键: %s", b.name, strings.Join(missing, ", ")))
	}
	return nil
}
