package models

// Query is one search request issued by the researcher.
type Query struct {
	Text              string
	MaxResults        int
	Depth             string // basic, advanced; only tavily honours it
	IncludeAnswer     bool
	IncludeRawContent bool
}

type Result struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Response holds ranked results and, when the provider computes one, a short answer.
type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}
