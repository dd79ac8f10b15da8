package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/mohammad-safakhou/autostrat/internal/agent/core"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch"
	fetchmodels "github.com/mohammad-safakhou/autostrat/tools/web_fetch/models"
	"github.com/mohammad-safakhou/autostrat/tools/web_search"
	"github.com/mohammad-safakhou/autostrat/tools/web_search/models"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []models.Query
	resp    models.Response
	err     error
}

func (f *fakeSearcher) Discover(_ context.Context, q models.Query) (models.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.resp, f.err
}

type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
	fail bool
}

func (f *fakeFetcher) Exec(_ context.Context, url string) (fetchmodels.Result, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.fail {
		return fetchmodels.Result{}, errors.New("blocked")
	}
	return fetchmodels.Result{URL: url, Text: "<b>full</b> article body for " + url}, nil
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{MaxResults: 5, Depth: "advanced", IncludeAnswer: true, MaxContentChars: 40}
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func call(args string) core.ToolCall {
	return core.ToolCall{ID: "c1", Name: WebSearchName, Arguments: json.RawMessage(args)}
}

func TestRegistryRejectsBadCalls(t *testing.T) {
	reg, err := NewRegistry(NewWebSearch(quiet(), &fakeSearcher{}, nil, testSearchConfig()))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Execute(context.Background(), core.ToolCall{Name: "calculator"}); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	for _, args := range []string{`{}`, `{"query": ""}`, `{"query": "x", "lang": "en"}`, `{"query": "x", "max_results": 50}`, `not json`} {
		if _, err := reg.Execute(context.Background(), call(args)); !errors.Is(err, ErrInvalidArgs) {
			t.Errorf("args %s: expected ErrInvalidArgs, got %v", args, err)
		}
	}
}

func TestRegistryDuplicateAndSpecs(t *testing.T) {
	ws := NewWebSearch(quiet(), &fakeSearcher{}, nil, testSearchConfig())
	if _, err := NewRegistry(ws, ws); !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
	reg, _ := NewRegistry(ws)
	specs := reg.Specs()
	if len(specs) != 1 || specs[0].Name != WebSearchName || !json.Valid(specs[0].Parameters) {
		t.Fatalf("unexpected specs %+v", specs)
	}
}

func TestWebSearchRendersCleanJSON(t *testing.T) {
	s := &fakeSearcher{resp: models.Response{
		Query:  "ev sales 2025",
		Answer: "<p>Sales grew</p>",
		Results: []models.Result{
			{Title: "EV <em>sales</em>", URL: "https://a.example", Content: "<script>x()</script>Global EV sales rose 25% in 2025 with China leading demand", Score: 0.9},
			{Title: "Second", URL: "https://b.example", Content: "short"},
		},
	}}
	reg, _ := NewRegistry(NewWebSearch(quiet(), s, nil, testSearchConfig()))
	out, err := reg.Execute(context.Background(), call(`{"query": " ev sales 2025 ", "max_results": 1}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var resp models.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, out)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("max_results not honoured: %d results", len(resp.Results))
	}
	r := resp.Results[0]
	if r.Title != "EV sales" || strings.Contains(r.Content, "<") || strings.Contains(r.Content, "x()") {
		t.Fatalf("markup survived: %+v", r)
	}
	if len([]rune(r.Content)) != 40 {
		t.Fatalf("content not truncated to 40 chars: %q", r.Content)
	}
	if resp.Answer != "Sales grew" {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
	q := s.queries[0]
	if q.Text != "ev sales 2025" || q.MaxResults != 1 || q.Depth != "advanced" || !q.IncludeAnswer {
		t.Fatalf("unexpected query %+v", q)
	}
}

func TestWebSearchProviderError(t *testing.T) {
	reg, _ := NewRegistry(NewWebSearch(quiet(), &fakeSearcher{err: errors.New("quota exceeded")}, nil, testSearchConfig()))
	if _, err := reg.Execute(context.Background(), call(`{"query": "x"}`)); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestWebSearchEnrichesShortSnippets(t *testing.T) {
	s := &fakeSearcher{resp: models.Response{Results: []models.Result{
		{Title: "a", URL: "https://a.example", Content: "tiny"},
		{Title: "b", URL: "https://b.example", Content: "tiny", RawContent: "already have it"},
	}}}
	f := &fakeFetcher{}
	cfg := testSearchConfig()
	cfg.Enrich = true
	cfg.MaxContentChars = 1000
	reg, _ := NewRegistry(NewWebSearch(quiet(), s, f, cfg))
	out, err := reg.Execute(context.Background(), call(`{"query": "x"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var resp models.Response
	_ = json.Unmarshal([]byte(out), &resp)
	if len(f.urls) != 1 || f.urls[0] != "https://a.example" {
		t.Fatalf("expected one fetch of a.example, got %v", f.urls)
	}
	if resp.Results[0].RawContent != "full article body for https://a.example" {
		t.Fatalf("unexpected raw content %q", resp.Results[0].RawContent)
	}
	if resp.Results[1].RawContent != "already have it" {
		t.Fatalf("existing raw content overwritten: %q", resp.Results[1].RawContent)
	}
}

func TestWebSearchEnrichFailureKeepsSnippet(t *testing.T) {
	s := &fakeSearcher{resp: models.Response{Results: []models.Result{{Title: "a", URL: "https://a.example", Content: "tiny"}}}}
	cfg := testSearchConfig()
	cfg.Enrich = true
	reg, _ := NewRegistry(NewWebSearch(quiet(), s, &fakeFetcher{fail: true}, cfg))
	out, err := reg.Execute(context.Background(), call(`{"query": "x"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, `"content":"tiny"`) || strings.Contains(out, "raw_content") {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Search
	cfg.APIKey = ""
	if _, err := FromConfig(quiet(), cfg); !errors.Is(err, web_search.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	cfg.APIKey = "k"
	cfg.Enrich = true
	cfg.Fetcher = "curl"
	if _, err := FromConfig(quiet(), cfg); !errors.Is(err, web_fetch.ErrUnsupportedFetcher) {
		t.Fatalf("expected ErrUnsupportedFetcher, got %v", err)
	}
	cfg.Fetcher = config.FetcherHTTP
	reg, err := FromConfig(quiet(), cfg)
	if err != nil || len(reg.Specs()) != 1 {
		t.Fatalf("FromConfig: %v", err)
	}
}
