// Package preview fetches link preview cards: Open Graph metadata
// extracted from a page, cached in Redis, with an optional headless
// browser fallback for script-rendered pages.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	maxBytes     = 512_000 // hard cap on HTML bytes read
	maxRedirects = 5
)

var (
	ErrDisallowedURL      = errors.New("preview: disallowed url")
	ErrUnsupportedContent = errors.New("preview: unsupported content type")
	ErrFetchFailed        = errors.New("preview: upstream fetch failed")
)

// Card is the preview payload for one URL. URL is the final location
// after redirects.
type Card struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Image       string `json:"image,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
}

// Service resolves preview cards. cache and browser are optional; with
// no cache every request fetches, with no browser script-heavy pages
// just yield thinner cards.
type Service struct {
	cache   *Cache
	browser *Browser
	client  *http.Client
	resolve func(ctx context.Context, host string) ([]net.IPAddr, error)
}

func NewService(cache *Cache, browser *Browser) *Service {
	s := &Service{
		cache:   cache,
		browser: browser,
		resolve: net.DefaultResolver.LookupIPAddr,
	}
	s.client = &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w: too many redirects", ErrFetchFailed)
			}
			// Each hop gets the same destination check so a public
			// page cannot bounce us into the internal network.
			return s.ensurePublic(req.Context(), req.URL)
		},
	}
	return s
}

// Card returns the preview card for rawURL, from cache when possible.
func (s *Service) Card(ctx context.Context, rawURL string) (Card, error) {
	if s.cache != nil {
		if card, ok := s.cache.Get(ctx, rawURL); ok {
			return card, nil
		}
	}

	card, err := s.fetch(ctx, rawURL)
	if err != nil {
		return Card{}, err
	}

	// Static HTML told us nothing useful; let a real browser render it.
	if s.browser != nil && card.Title == "" && card.Description == "" {
		if rendered, err := s.browser.Render(ctx, rawURL); err == nil {
			if c, perr := parseCard(card.URL, strings.NewReader(rendered)); perr == nil {
				card = c
			}
		}
	}

	if s.cache != nil {
		s.cache.Set(ctx, rawURL, card)
	}
	return card, nil
}

func (s *Service) fetch(ctx context.Context, rawURL string) (Card, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Card{}, fmt.Errorf("%w: only http/https allowed", ErrDisallowedURL)
	}
	if err := s.ensurePublic(ctx, parsed); err != nil {
		return Card{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Card{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", "mastoblog-preview/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrDisallowedURL) {
			return Card{}, ErrDisallowedURL
		}
		return Card{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	ctype := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ctype, "text/html") && !strings.Contains(ctype, "application/xhtml") {
		return Card{}, fmt.Errorf("%w: %s", ErrUnsupportedContent, ctype)
	}

	// Truncation is fine for metadata extraction.
	body := io.LimitReader(resp.Body, maxBytes)
	return parseCard(resp.Request.URL.String(), body)
}

// ensurePublic resolves the host and rejects anything that lands on a
// private, loopback, or link-local address.
func (s *Service) ensurePublic(ctx context.Context, u *url.URL) error {
	host := u.Hostname()
	if host == "" || host == "localhost" {
		return fmt.Errorf("%w: bad host", ErrDisallowedURL)
	}
	addrs, err := s.resolve(ctx, host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w: host did not resolve", ErrDisallowedURL)
	}
	for _, addr := range addrs {
		ip := addr.IP
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: private destination", ErrDisallowedURL)
		}
	}
	return nil
}

var spaceRe = regexp.MustCompile(`\s+`)

func clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// parseCard walks the document head collecting OG/twitter metadata,
// the title, and a favicon link.
func parseCard(finalURL string, body io.Reader) (Card, error) {
	base, err := url.Parse(finalURL)
	if err != nil {
		return Card{}, fmt.Errorf("%w: bad final url", ErrFetchFailed)
	}

	meta := make(map[string]string)
	var title, favicon string
	inTitle := false

	tz := html.NewTokenizer(body)
loop:
	for {
		switch tz.Next() {
		case html.ErrorToken:
			break loop
		case html.TextToken:
			if inTitle && title == "" {
				title = string(tz.Text())
			}
		case html.EndTagToken:
			tok := tz.Token()
			if tok.Data == "title" {
				inTitle = false
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tz.Token()
			switch tok.Data {
			case "title":
				inTitle = true
			case "meta":
				var prop, name, content string
				for _, a := range tok.Attr {
					switch a.Key {
					case "property":
						prop = a.Val
					case "name":
						name = a.Val
					case "content":
						content = a.Val
					}
				}
				if content == "" {
					continue
				}
				if prop != "" {
					if _, seen := meta[prop]; !seen {
						meta[prop] = content
					}
				}
				if name != "" {
					if _, seen := meta[name]; !seen {
						meta[name] = content
					}
				}
			case "link":
				var rel, href string
				for _, a := range tok.Attr {
					switch a.Key {
					case "rel":
						rel = strings.ToLower(a.Val)
					case "href":
						href = a.Val
					}
				}
				if favicon == "" && href != "" && strings.Contains(rel, "icon") {
					favicon = absURL(base, href)
				}
			}
		}
	}

	card := Card{
		URL:         finalURL,
		Title:       clean(firstOf(meta, "og:title", "twitter:title")),
		Description: clean(firstOf(meta, "og:description", "twitter:description", "description")),
		SiteName:    clean(meta["og:site_name"]),
		Image:       absURL(base, firstOf(meta, "og:image", "twitter:image")),
		Favicon:     favicon,
	}
	if card.Title == "" {
		card.Title = clean(title)
	}
	if card.Favicon == "" {
		card.Favicon = absURL(base, "/favicon.ico")
	}
	return card, nil
}

func firstOf(meta map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := meta[key]; v != "" {
			return v
		}
	}
	return ""
}

func absURL(base *url.URL, maybe string) string {
	if maybe == "" {
		return ""
	}
	ref, err := url.Parse(maybe)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
