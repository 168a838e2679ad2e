package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Category names a domain set consulted during classification.
type Category string

const (
	CategoryVideo   Category = "video"
	CategoryPicture Category = "picture"
	CategoryTech    Category = "tech"
	CategoryNews    Category = "news"
)

// DomainConfig maps categories to domain lists. It is read-only after
// construction; share one instance across the process.
type DomainConfig map[Category][]string

// Match reports whether host belongs to any configured domain in the
// category. Matching is suffix-anchored: a configured "bbc.com"
// matches "bbc.com" and "news.bbc.com" but not "notbbc.com".
func (dc DomainConfig) Match(cat Category, host string) bool {
	for _, domain := range dc[cat] {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// DefaultDomains covers the mainstream hosts worth flagging out of the
// box. Operators override the whole table via a JSON file when they
// want different coverage.
func DefaultDomains() DomainConfig {
	return DomainConfig{
		CategoryVideo: {
			"youtube.com", "youtu.be", "vimeo.com", "twitch.tv",
			"peertube.tv", "media.ccc.de", "dailymotion.com",
		},
		CategoryPicture: {
			"flickr.com", "imgur.com", "pixelfed.social", "instagram.com",
			"500px.com", "unsplash.com",
		},
		CategoryTech: {
			"github.com", "gitlab.com", "codeberg.org", "sr.ht",
			"stackoverflow.com", "news.ycombinator.com", "lwn.net",
			"arstechnica.com", "lobste.rs",
		},
		CategoryNews: {
			"nytimes.com", "theguardian.com", "bbc.com", "bbc.co.uk",
			"reuters.com", "apnews.com", "washingtonpost.com",
			"lemonde.fr", "spiegel.de", "aljazeera.com",
		},
	}
}

// LoadDomains reads a category-to-domains table from a JSON file.
// Hosts are lowercased and www-stripped so the file can be written
// loosely. Unknown categories are kept as-is; the classifier only
// consults the four it knows about.
func LoadDomains(path string) (DomainConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domains file: %w", err)
	}
	var dc DomainConfig
	if err := json.Unmarshal(raw, &dc); err != nil {
		return nil, fmt.Errorf("parse domains file %s: %w", path, err)
	}
	for cat, domains := range dc {
		for i, d := range domains {
			d = strings.ToLower(strings.TrimSpace(d))
			domains[i] = strings.TrimPrefix(d, "www.")
		}
		dc[cat] = domains
	}
	return dc, nil
}
