package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	xerrors "AgentFlows/internal/errors"
	"AgentFlows/internal/flow"
)

const (
	defaultWikiBaseURL = "https://en.wikipedia.org/w/api.php"
	defaultWikiResults = 3
)

// WikiSearchFlow 调用 MediaWiki API：先用 opensearch 定位条目，
// 再抓取条目摘要作为观察结果。resultLimit 控制返回的条目数量。
type WikiSearchFlow struct {
	flow.Base
	baseURL     string
	client      *http.Client
	resultLimit int
}

// NewWikiSearchFlow 创建维基搜索工具流。
func NewWikiSearchFlow(name, description, baseURL string, client *http.Client, resultLimit int) *WikiSearchFlow {
	if name == "" {
		name = "wiki_search"
	}
	if baseURL == "" {
		baseURL = defaultWikiBaseURL
	}
	if resultLimit <= 0 {
		resultLimit = defaultWikiResults
	}
	return &WikiSearchFlow{
		Base:        flow.NewBase(name, description, []string{"search_term"}, []string{ObservationKey}),
		baseURL:     baseURL,
		client:      client,
		resultLimit: resultLimit,
	}
}

// Run 实现 flow.Flow 接口。
func (f *WikiSearchFlow) Run(ctx context.Context, input flow.Data) (flow.Data, error) {
	if err := f.RequireInputs(input); err != nil {
		return nil, err
	}
	term := input.String("search_term")

	titles, err := f.lookupTitles(ctx, term)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return flow.Data{ObservationKey: fmt.Sprintf("No Wikipedia page found for %q.", term)}, nil
	}

	extracts, err := f.fetchExtracts(ctx, titles)
	if err != nil {
		return nil, err
	}
	var summaries []string
	for _, title := range titles {
		if extract := extracts[title]; extract != "" {
			summaries = append(summaries, fmt.Sprintf("%s: %s", title, extract))
		}
	}
	if len(summaries) == 0 {
		return flow.Data{ObservationKey: fmt.Sprintf("Wikipedia pages for %q have no readable summary.", term)}, nil
	}
	return flow.Data{ObservationKey: truncate(strings.Join(summaries, "\n\n"), maxObservationRunes)}, nil
}

func (f *WikiSearchFlow) lookupTitles(ctx context.Context, term string) ([]string, error) {
	query := url.Values{
		"action": {"opensearch"},
		"search": {term},
		"limit":  {strconv.Itoa(f.resultLimit)},
		"format": {"json"},
	}
	// opensearch 返回 [query, [titles], [descriptions], [urls]]
	var decoded []any
	if err := getJSON(ctx, f.client, f.baseURL+"?"+query.Encode(), &decoded); err != nil {
		return nil, err
	}
	if len(decoded) < 2 {
		return nil, xerrors.New(xerrors.CodeToolFailure, "opensearch 响应格式异常")
	}
	raw, ok := decoded[1].([]any)
	if !ok {
		return nil, nil
	}
	var titles []string
	for _, item := range raw {
		if title, ok := item.(string); ok && title != "" {
			titles = append(titles, title)
		}
		if len(titles) >= f.resultLimit {
			break
		}
	}
	return titles, nil
}

func (f *WikiSearchFlow) fetchExtracts(ctx context.Context, titles []string) (map[string]string, error) {
	query := url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"titles":      {strings.Join(titles, "|")},
		"format":      {"json"},
	}
	var decoded struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := getJSON(ctx, f.client, f.baseURL+"?"+query.Encode(), &decoded); err != nil {
		return nil, err
	}
	extracts := make(map[string]string, len(decoded.Query.Pages))
	for _, page := range decoded.Query.Pages {
		if page.Title != "" && page.Extract != "" {
			extracts[page.Title] = page.Extract
		}
	}
	return extracts, nil
}

var _ flow.Flow = (*WikiSearchFlow)(nil)
