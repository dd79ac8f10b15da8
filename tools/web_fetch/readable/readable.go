package readable

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch/models"
)

// Extract turns raw HTML into article text capped at maxChars runes.
func Extract(html, pageURL string, maxChars int) (models.Result, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return models.Result{}, fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return models.Result{}, fmt.Errorf("readability: %w", err)
	}
	sum := sha1.Sum([]byte(html))
	return models.Result{
		URL:      pageURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: strings.TrimSpace(article.SiteName),
		Text:     Truncate(strings.TrimSpace(article.TextContent), maxChars),
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   200,
	}, nil
}

// Truncate cuts s to at most n runes. n <= 0 leaves s untouched.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
