package scanner

import (
	"fmt"
	"os"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/khnews/crosspost/internal/logger"
)

// FeedsConfig is the YAML feed list:
//
//	feeds:
//	  - https://example.com/rss
type FeedsConfig struct {
	Feeds []string `yaml:"feeds"`
}

// LoadFeeds reads the RSS feed list from a YAML file.
func LoadFeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse feeds config %s: %w", path, err)
	}
	if len(cfg.Feeds) == 0 {
		return nil, fmt.Errorf("feeds config %s lists no feeds", path)
	}
	return cfg.Feeds, nil
}

// FetchAllFeeds downloads and parses every feed. A broken feed is
// logged and skipped, never fatal.
func FetchAllFeeds(urls []string) []*gofeed.Item {
	parser := gofeed.NewParser()
	var items []*gofeed.Item
	ok := 0

	for _, url := range urls {
		feed, err := parser.ParseURL(url)
		if err != nil {
			logger.Warn("feed failed to parse", "url", url, "error", err)
			continue
		}
		items = append(items, feed.Items...)
		ok++
		logger.Debug("feed loaded", "url", url, "items", len(feed.Items))
	}

	logger.Info("feeds fetched", "ok", ok, "total", len(urls), "items", len(items))
	return items
}
