// Package classify derives content flags from a post's HTML body and
// media attachments. It is pure: no I/O, no shared state, safe to call
// from concurrent sync workers.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Flags are the derived booleans persisted alongside each cached post.
// They are recomputed from scratch on every classification; nothing
// mutates them independently.
type Flags struct {
	HasMedia    bool `json:"has_media"`
	HasVideo    bool `json:"has_video"`
	HasNews     bool `json:"has_news"`
	HasTech     bool `json:"has_tech"`
	HasLink     bool `json:"has_link"`
	HasQuestion bool `json:"has_question"`
}

// Classifier evaluates posts against a fixed domain configuration.
// Construct one per process (or per test) with NewClassifier.
type Classifier struct {
	domains DomainConfig
}

func NewClassifier(domains DomainConfig) *Classifier {
	return &Classifier{domains: domains}
}

var videoAttachmentTypes = map[string]bool{
	"video": true,
	"gifv":  true,
	"audio": true,
}

// Classify inspects the HTML body and attachment types of a post.
// attachmentTypes are the Mastodon media attachment type strings
// (image, video, gifv, audio, unknown). isReplyToOther suppresses the
// question heuristic: a reply to someone else is a conversation, not a
// question posed to the public.
func (c *Classifier) Classify(body string, attachmentTypes []string, isReplyToOther bool) Flags {
	flags := Flags{HasMedia: len(attachmentTypes) > 0}

	for _, typ := range attachmentTypes {
		if videoAttachmentTypes[typ] {
			flags.HasVideo = true
		}
	}

	c.scanMarkup(body, &flags)

	if !isReplyToOther {
		flags.HasQuestion = hasHumanQuestion(body)
	}
	return flags
}

// scanMarkup walks anchor and iframe tags in the body. Malformed HTML
// is tolerated: the tokenizer yields whatever it can and we classify
// the links we find.
func (c *Classifier) scanMarkup(body string, flags *Flags) {
	tz := html.NewTokenizer(strings.NewReader(body))
	for {
		switch tz.Next() {
		case html.ErrorToken:
			return
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tz.Token()
			switch tok.Data {
			case "iframe":
				// Embedded players come through as iframes.
				flags.HasVideo = true
			case "a":
				c.classifyAnchor(tok, flags)
			}
		}
	}
}

func (c *Classifier) classifyAnchor(tok html.Token, flags *Flags) {
	var href, class string
	for _, attr := range tok.Attr {
		switch attr.Key {
		case "href":
			href = attr.Val
		case "class":
			class = attr.Val
		}
	}
	if href == "" {
		return
	}

	// Mastodon renders mentions and hashtags as anchors with a marker
	// class. They do not count as outbound links, but their hosts are
	// still matched against the domain sets.
	if !isMentionOrHashtag(class) {
		flags.HasLink = true
	}

	host := cleanHost(href)
	if host == "" {
		return
	}
	if c.domains.Match(CategoryVideo, host) {
		flags.HasVideo = true
	}
	if c.domains.Match(CategoryPicture, host) {
		flags.HasMedia = true
	}
	if c.domains.Match(CategoryTech, host) {
		flags.HasTech = true
	}
	if c.domains.Match(CategoryNews, host) {
		flags.HasNews = true
	}
}

func isMentionOrHashtag(class string) bool {
	for _, token := range strings.Fields(class) {
		if token == "mention" || token == "hashtag" {
			return true
		}
	}
	return false
}

// cleanHost extracts the lowercased host from a URL and strips a
// leading www. prefix. Returns "" for unparseable URLs; a bad link
// must not abort classification of the rest of the post.
func cleanHost(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// questionRe matches a word (letters, digits, underscore, apostrophes)
// immediately followed by a question mark that ends the text or is
// followed by whitespace. Filters out query strings and token junk.
var (
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	urlRe      = regexp.MustCompile(`https?://\S+`)
	questionRe = regexp.MustCompile(`[\p{L}\p{N}_'’]\?(\s|$)`)
)

func hasHumanQuestion(body string) bool {
	text := tagRe.ReplaceAllString(body, " ")
	text = html.UnescapeString(text)
	// URLs become visible once tags are stripped; drop them so a
	// query-string ? is never mistaken for a question mark.
	text = urlRe.ReplaceAllString(text, " ")
	return questionRe.MatchString(text)
}
