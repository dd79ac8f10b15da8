package web_search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/autostrat/tools/web_search/brave"
	"github.com/mohammad-safakhou/autostrat/tools/web_search/models"
	"github.com/mohammad-safakhou/autostrat/tools/web_search/serper"
	"github.com/mohammad-safakhou/autostrat/tools/web_search/tavily"
)

type WebSearcher interface {
	Discover(ctx context.Context, q models.Query) (models.Response, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported search provider")
	ErrMissingAPIKey       = errors.New("search api key not configured")
)

// NewWebSearcher returns the searcher for provider. A missing key is an error
// so misconfiguration surfaces at startup rather than on the first task.
func NewWebSearcher(provider Provider, apiKey string, timeout time.Duration) (WebSearcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissingAPIKey)
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	switch provider {
	case TavilyProvider:
		return tavily.Search{ApiKey: apiKey, Client: client}, nil
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, Client: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey, Client: client}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}
