package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mohammad-safakhou/autostrat/tools/web_search/models"
)

const DefaultBaseURL = "https://google.serper.dev"

type Search struct {
	ApiKey  string
	BaseURL string
	Client  *http.Client
}

func (s Search) Discover(ctx context.Context, q models.Query) (models.Response, error) {
	// https://serper.dev/ docs
	k := q.MaxResults
	if k <= 0 {
		k = 5
	}
	body, err := json.Marshal(map[string]any{"q": q.Text, "num": k})
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
	req.Header.Set("X-API-KEY", s.ApiKey)
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
		return models.Response{}, fmt.Errorf("serper status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var raw struct {
		AnswerBox struct {
			Answer  string `json:"answer"`
			Snippet string `json:"snippet"`
		} `json:"answerBox"`
		Organic []struct {
			Title    string `json:"title"`
			Link     string `json:"link"`
			Snippet  string `json:"snippet"`
			Position int    `json:"position"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, fmt.Errorf("decode: %w", err)
	}
	out := models.Response{Query: q.Text}
	if q.IncludeAnswer {
		out.Answer = raw.AnswerBox.Answer
		if out.Answer == "" {
			out.Answer = raw.AnswerBox.Snippet
		}
	}
	for i, it := range raw.Organic {
		if i >= k {
			break
		}
		// serper has no relevance score; rank order stands in for it
		out.Results = append(out.Results, models.Result{
			Title: it.Title, URL: it.Link, Content: it.Snippet, Score: 1 / float64(i+1),
		})
	}
	return out, nil
}
