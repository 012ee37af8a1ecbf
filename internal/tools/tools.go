package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "AgentFlows/internal/errors"
)

// ObservationKey 是所有工具流统一的输出键，执行器把它交还给控制器。
const ObservationKey = "observation"

// maxObservationRunes 限制单次观察结果的长度，避免提示词无限膨胀。
const maxObservationRunes = 1200

// defaultHTTPClient 供未显式注入客户端的工具使用。
var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// getJSON 发起 GET 请求并把响应体解析到 out。
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	if client == nil {
		client = defaultHTTPClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeToolFailure, err, "构建工具请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeToolFailure, err, "请求外部服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return xerrors.New(xerrors.CodeToolFailure,
			fmt.Sprintf("外部服务返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeToolFailure, err, "解析外部服务响应失败")
	}
	return nil
}

// truncate 控制观察结果的长度，避免提示词无限膨胀。
func truncate(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
