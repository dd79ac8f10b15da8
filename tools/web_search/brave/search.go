package brave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mohammad-safakhou/autostrat/tools/web_search/models"
)

const DefaultBaseURL = "https://api.search.brave.com"

type Search struct {
	ApiKey  string
	BaseURL string
	Client  *http.Client
}

func (s Search) Discover(ctx context.Context, q models.Query) (models.Response, error) {
	// https://api.search.brave.com/app/documentation/web-search
	k := q.MaxResults
	if k <= 0 {
		k = 5
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("count", fmt.Sprint(k))
	if q.IncludeRawContent {
		params.Set("extra_snippets", "true")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", base+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return models.Response{}, fmt.Errorf("brave status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title         string   `json:"title"`
				URL           string   `json:"url"`
				Description   string   `json:"description"`
				ExtraSnippets []string `json:"extra_snippets"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, fmt.Errorf("decode: %w", err)
	}
	out := models.Response{Query: q.Text}
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		res := models.Result{Title: r.Title, URL: r.URL, Content: r.Description, Score: 1 / float64(i+1)}
		for _, extra := range r.ExtraSnippets {
			res.RawContent += extra + "\n"
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}
