package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/autostrat/tools/web_fetch/models"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch/readable"
)

const maxBodyBytes = 4 << 20

// Fetch downloads a page with a plain GET and extracts readable text.
type Fetch struct {
	Client    *http.Client
	MaxChars  int
	UserAgent string
}

func (f Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Result{URL: url, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Result{URL: url, Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Result{URL: url, Status: resp.StatusCode}, err
	}
	res, err := readable.Extract(string(body), url, f.MaxChars)
	if err != nil {
		return models.Result{URL: url, Status: resp.StatusCode}, err
	}
	res.RenderMS = int(time.Since(t0) / time.Millisecond)
	return res, nil
}
