package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/mohammad-safakhou/autostrat/internal/agent/core"
	"github.com/mohammad-safakhou/autostrat/internal/helpers"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch/readable"
	"github.com/mohammad-safakhou/autostrat/tools/web_search"
	"github.com/mohammad-safakhou/autostrat/tools/web_search/models"
	"golang.org/x/sync/errgroup"
)

const WebSearchName = "web_search"

const webSearchParams = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Search query. Include the current year for recent events."},
    "max_results": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results to return."}
  },
  "additionalProperties": false
}`

// snippets shorter than this are replaced by the fetched page text when enrichment is on
const minSnippetChars = 280

const maxEnrichWorkers = 4

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// WebSearch exposes a WebSearcher to the researcher.
type WebSearch struct {
	logger   *log.Logger
	searcher web_search.WebSearcher
	fetcher  web_fetch.WebFetcher
	cfg      config.SearchConfig
}

// NewWebSearch returns the search tool. fetcher may be nil, which disables enrichment.
func NewWebSearch(logger *log.Logger, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, cfg config.SearchConfig) *WebSearch {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &WebSearch{logger: logger, searcher: searcher, fetcher: fetcher, cfg: cfg}
}

func (w *WebSearch) Spec() core.ToolSpec {
	return core.ToolSpec{
		Name:        WebSearchName,
		Description: "Search the web for recent information. Returns ranked results with title, url, content and score as JSON.",
		Parameters:  json.RawMessage(webSearchParams),
	}
}

func (w *WebSearch) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args webSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	limit := w.cfg.MaxResults
	if args.MaxResults > 0 && args.MaxResults < limit {
		limit = args.MaxResults
	}
	resp, err := w.searcher.Discover(ctx, models.Query{
		Text:              strings.TrimSpace(args.Query),
		MaxResults:        limit,
		Depth:             w.cfg.Depth,
		IncludeAnswer:     w.cfg.IncludeAnswer,
		IncludeRawContent: w.cfg.IncludeRawContent,
	})
	if err != nil {
		return "", fmt.Errorf("search %q: %w", args.Query, err)
	}
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	w.clean(&resp)
	if w.cfg.Enrich && w.fetcher != nil {
		w.enrich(ctx, resp.Results)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (w *WebSearch) clean(resp *models.Response) {
	resp.Answer = helpers.PlainText(resp.Answer)
	for i := range resp.Results {
		r := &resp.Results[i]
		r.Title = helpers.PlainText(r.Title)
		r.Content = readable.Truncate(helpers.PlainText(r.Content), w.cfg.MaxContentChars)
		r.RawContent = readable.Truncate(helpers.PlainText(r.RawContent), w.cfg.MaxContentChars)
	}
}

// enrich fills RawContent for results that only carry a short snippet.
// Fetch failures keep the snippet.
func (w *WebSearch) enrich(ctx context.Context, results []models.Result) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxEnrichWorkers)
	for i := range results {
		r := &results[i]
		if r.RawContent != "" || len(r.Content) >= minSnippetChars || r.URL == "" {
			continue
		}
		g.Go(func() error {
			page, err := w.fetcher.Exec(gctx, r.URL)
			if err != nil {
				w.logger.Printf("enrich %s: %v", r.URL, err)
				return nil
			}
			r.RawContent = readable.Truncate(helpers.PlainText(page.Text), w.cfg.MaxContentChars)
			return nil
		})
	}
	_ = g.Wait()
}
