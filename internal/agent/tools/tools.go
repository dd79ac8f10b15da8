package tools

import (
	"log"
	"time"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/mohammad-safakhou/autostrat/tools/web_fetch"
	"github.com/mohammad-safakhou/autostrat/tools/web_search"
)

// FromConfig builds the registry the researcher is bound to.
func FromConfig(logger *log.Logger, cfg config.SearchConfig) (*Registry, error) {
	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Provider), cfg.APIKey, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	var fetcher web_fetch.WebFetcher
	if cfg.Enrich {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Fetcher), fetchTimeout(cfg.Timeout), cfg.MaxContentChars)
		if err != nil {
			return nil, err
		}
	}
	return NewRegistry(NewWebSearch(logger, searcher, fetcher, cfg))
}

func fetchTimeout(search time.Duration) time.Duration {
	if search <= 0 || search > web_fetch.DefaultTimeout {
		return web_fetch.DefaultTimeout
	}
	return search
}
