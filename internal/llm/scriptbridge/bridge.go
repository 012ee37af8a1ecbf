package scriptbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/llm"
)

// Client 通过调用外部脚本实现大模型推理，便于接入本地模型或离线评测。
// 脚本从标准输入读取 {"messages": [...]} JSON，向标准输出写
// {"content": "..."}。
type Client struct {
	interpreter string
	scriptPath  string
	workingDir  string
}

// NewClient 创建脚本桥接客户端。
func NewClient(interpreter, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未指定脚本路径")
	}
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Client{
		interpreter: interpreter,
		scriptPath:  scriptPath,
		workingDir:  workingDir,
	}, nil
}

// Chat 执行外部脚本并解析输出。
func (c *Client) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	encoded, err := json.Marshal(map[string]any{"messages": messages})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeBackendFailure, err, "序列化脚本请求失败")
	}

	command := exec.CommandContext(ctx, c.interpreter, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", xerrors.New(xerrors.CodeBackendFailure,
			fmt.Sprintf("执行脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String())))
	}

	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", xerrors.Wrap(xerrors.CodeBackendFailure, err, "解析脚本输出失败")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", xerrors.New(xerrors.CodeBackendFailure, "脚本输出内容为空")
	}
	return resp.Content, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Backend = (*Client)(nil)
