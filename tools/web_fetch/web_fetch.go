package web_fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/autostrat/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch/httpfetch"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
	userAgent       = "AutoStrat/1.0 (+https://github.com/mohammad-safakhou/autostrat)"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case HTTPFetcherType, "":
		return httpfetch.Fetch{Client: &http.Client{Timeout: timeout}, MaxChars: maxChars, UserAgent: userAgent}, nil
	case ChromedpFetcherType:
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent}, nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}
