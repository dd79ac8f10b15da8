package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mohammad-safakhou/autostrat/tools/web_search/models"
)

const DefaultBaseURL = "https://api.tavily.com"

type Search struct {
	ApiKey  string
	BaseURL string
	Client  *http.Client
}

type request struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results,omitempty"`
	SearchDepth       string `json:"search_depth,omitempty"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type response struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

func (s Search) Discover(ctx context.Context, q models.Query) (models.Response, error) {
	// https://docs.tavily.com/documentation/api-reference/endpoint/search
	body, err := json.Marshal(request{
		APIKey:            s.ApiKey,
		Query:             q.Text,
		MaxResults:        q.MaxResults,
		SearchDepth:       q.Depth,
		IncludeAnswer:     q.IncludeAnswer,
		IncludeRawContent: q.IncludeRawContent,
	})
	if err != nil {
		return models.Response{}, err
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "POST", base+"/search", bytes.NewReader(body))
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.ApiKey)
	req.Header.Set("Content-Type", "application/json")

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
		return models.Response{}, fmt.Errorf("tavily status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var raw response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, fmt.Errorf("decode: %w", err)
	}
	out := models.Response{Query: q.Text, Answer: raw.Answer}
	for i, r := range raw.Results {
		if q.MaxResults > 0 && i >= q.MaxResults {
			break
		}
		out.Results = append(out.Results, models.Result{
			Title: r.Title, URL: r.URL, Content: r.Content, RawContent: r.RawContent, Score: r.Score,
		})
	}
	return out, nil
}
