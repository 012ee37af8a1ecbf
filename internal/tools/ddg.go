package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"AgentFlows/internal/flow"
)

const defaultDDGBaseURL = "https://api.duckduckgo.com/"

const defaultDDGResults = 3

// DDGSearchFlow 调用 DuckDuckGo Instant Answer API 获取摘要型答案。
// resultLimit 控制补充的相关主题条数。
type DDGSearchFlow struct {
	flow.Base
	baseURL     string
	client      *http.Client
	resultLimit int
}

// NewDDGSearchFlow 创建 DuckDuckGo 搜索工具流。
func NewDDGSearchFlow(name, description, baseURL string, client *http.Client, resultLimit int) *DDGSearchFlow {
	if name == "" {
		name = "ddg_search"
	}
	if baseURL == "" {
		baseURL = defaultDDGBaseURL
	}
	if resultLimit <= 0 {
		resultLimit = defaultDDGResults
	}
	return &DDGSearchFlow{
		Base:        flow.NewBase(name, description, []string{"query"}, []string{ObservationKey}),
		baseURL:     baseURL,
		client:      client,
		resultLimit: resultLimit,
	}
}

// Run 实现 flow.Flow 接口。
func (f *DDGSearchFlow) Run(ctx context.Context, input flow.Data) (flow.Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}
	term := input.String("query")

	query := url.Values{
		"q":             {term},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	var decoded struct {
		AbstractText  string `json:"AbstractText"`
		Heading       string `json:"Heading"`
		Answer        string `json:"Answer"`
		RelatedTopics []struct {
			Text string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := getJSON(ctx, f.client, f.baseURL+"?"+query.Encode(), &decoded); err != nil {
		return nil, err
	}

	observation := f.summarize(decoded.Heading, decoded.Answer, decoded.AbstractText, relatedTexts(decoded.RelatedTopics, f.resultLimit))
	if observation == "" {
		observation = fmt.Sprintf("DuckDuckGo returned no instant answer for %q.", term)
	}
	return flow.Data{ObservationKey: observation}, nil
}

func (f *DDGSearchFlow) summarize(heading, answer, abstract string, related []string) string {
	var parts []string
	if answer != "" {
		parts = append(parts, answer)
	}
	if abstract != "" {
		if heading != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", heading, abstract))
		} else {
			parts = append(parts, abstract)
		}
	}
	if len(parts) == 0 && len(related) > 0 {
		parts = append(parts, "Related: "+strings.Join(related, " | "))
	}
	return truncate(strings.Join(parts, "\n"), maxObservationRunes)
}

func relatedTexts(topics []struct {
	Text string `json:"Text"`
}, limit int) []string {
	var out []string
	for _, topic := range topics {
		if topic.Text == "" {
			continue
		}
		out = append(out, topic.Text)
		if len(out) >= limit {
			break
		}
	}
	return out
}

var _ flow.Flow = (*DDGSearchFlow)(nil)
