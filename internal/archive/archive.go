package archive

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
	snippetChars = 300
)

var ErrEmptyQuery = errors.New("query is required")

// Report is one completed strategy report.
type Report struct {
	TaskID     string    `json:"task_id"`
	Topic      string    `json:"topic"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	FinishedAt time.Time `json:"finished_at"`
}

type Hit struct {
	TaskID  string  `json:"task_id"`
	Topic   string  `json:"topic"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Archive is an in-memory full-text index of reports.
type Archive struct {
	index bleve.Index
	mu    sync.RWMutex
	meta  map[string]Report
}

func New() (*Archive, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Archive{index: index, meta: make(map[string]Report)}, nil
}

func (a *Archive) Index(r Report) error {
	if r.Title == "" {
		r.Title = title(r.Body)
	}
	if err := a.index.Index(r.TaskID, r); err != nil {
		return err
	}
	a.mu.Lock()
	a.meta[r.TaskID] = r
	a.mu.Unlock()
	return nil
}

func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.meta)
}

// Search returns up to limit reports matching q, best first.
func (a *Archive) Search(q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), limit, 0, false)
	res, err := a.index.Search(req)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Hit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		r := a.meta[hit.ID]
		out = append(out, Hit{
			TaskID: hit.ID, Topic: r.Topic, Title: r.Title,
			Snippet: snippet(r.Body),
			Score:   hit.Score, Rank: i + 1,
		})
	}
	return out, nil
}

func (a *Archive) Close() error {
	return a.index.Close()
}

// title is the first Markdown heading, or the first non-empty line.
func title(body string) string {
	first := ""
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if first == "" {
			first = line
		}
	}
	return first
}

func snippet(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= snippetChars {
		return string(r)
	}
	return string(r[:snippetChars]) + "..."
}
