package classify

import "testing"

func newTestClassifier() *Classifier {
	return NewClassifier(DomainConfig{
		CategoryVideo:   {"youtube.com"},
		CategoryPicture: {"flickr.com"},
		CategoryTech:    {"github.com"},
		CategoryNews:    {"bbc.com"},
	})
}

func TestClassifyPlainText(t *testing.T) {
	c := newTestClassifier()
	flags := c.Classify("<p>just words, no links</p>", nil, false)
	if flags != (Flags{}) {
		t.Fatalf("expected zero flags, got %+v", flags)
	}
}

func TestClassifyAttachments(t *testing.T) {
	c := newTestClassifier()

	flags := c.Classify("", []string{"image"}, false)
	if !flags.HasMedia || flags.HasVideo {
		t.Fatalf("image attachment: got %+v", flags)
	}

	flags = c.Classify("", []string{"gifv"}, false)
	if !flags.HasMedia || !flags.HasVideo {
		t.Fatalf("gifv attachment: got %+v", flags)
	}

	flags = c.Classify("", []string{"audio"}, false)
	if !flags.HasVideo {
		t.Fatalf("audio attachment: got %+v", flags)
	}
}

func TestClassifyIframe(t *testing.T) {
	c := newTestClassifier()
	flags := c.Classify(`<p>watch this</p><iframe src="https://player.example/embed"></iframe>`, nil, false)
	if !flags.HasVideo {
		t.Fatalf("iframe should flag video: got %+v", flags)
	}
}

func TestClassifyLinks(t *testing.T) {
	c := newTestClassifier()

	flags := c.Classify(`<a href="https://example.org/post">read</a>`, nil, false)
	if !flags.HasLink {
		t.Fatalf("plain anchor should flag link: got %+v", flags)
	}

	flags = c.Classify(`<a href="https://www.github.com/someone/repo">repo</a>`, nil, false)
	if !flags.HasLink || !flags.HasTech {
		t.Fatalf("github link: got %+v", flags)
	}

	flags = c.Classify(`<a href="https://news.bbc.com/story">story</a>`, nil, false)
	if !flags.HasNews {
		t.Fatalf("bbc subdomain should match news: got %+v", flags)
	}

	flags = c.Classify(`<a href="https://notbbc.com/story">story</a>`, nil, false)
	if flags.HasNews {
		t.Fatalf("look-alike host must not match news: got %+v", flags)
	}

	flags = c.Classify(`<a href="https://flickr.com/photo/1">pic</a>`, nil, false)
	if !flags.HasMedia {
		t.Fatalf("picture host should flag media: got %+v", flags)
	}
}

func TestClassifyHashtagLink(t *testing.T) {
	c := newTestClassifier()
	// Hashtag anchors are not outbound links, but their hosts still
	// count for the domain categories.
	flags := c.Classify(`<a class="hashtag" href="https://youtube.com/x">#vid</a>`, nil, false)
	if flags.HasLink {
		t.Fatalf("hashtag anchor must not flag link: got %+v", flags)
	}
	if !flags.HasVideo {
		t.Fatalf("hashtag anchor host should still match video: got %+v", flags)
	}

	flags = c.Classify(`<a class="u-url mention" href="https://mastodon.example/@friend">@friend</a>`, nil, false)
	if flags.HasLink {
		t.Fatalf("mention anchor must not flag link: got %+v", flags)
	}
}

func TestClassifyMalformedHref(t *testing.T) {
	c := newTestClassifier()
	flags := c.Classify(`<a href="://broken">x</a><a href="https://github.com/ok">y</a>`, nil, false)
	if !flags.HasTech {
		t.Fatalf("bad href must not abort remaining links: got %+v", flags)
	}
}

func TestClassifyQuestion(t *testing.T) {
	c := newTestClassifier()

	flags := c.Classify("<p>Why is the sky blue?</p>", nil, false)
	if !flags.HasQuestion {
		t.Fatalf("sentence-final question mark: got %+v", flags)
	}

	flags = c.Classify("<p>Why is the sky blue?</p>", nil, true)
	if flags.HasQuestion {
		t.Fatalf("reply to other must never be a question: got %+v", flags)
	}

	flags = c.Classify("<p>Any ideas? I am stuck.</p>", nil, false)
	if !flags.HasQuestion {
		t.Fatalf("mid-text question mark before whitespace: got %+v", flags)
	}

	flags = c.Classify(`<p>See <a href="https://example.com?foo=bar">this</a></p>`, nil, false)
	if flags.HasQuestion {
		t.Fatalf("query-string question mark must not count: got %+v", flags)
	}

	flags = c.Classify("<p>Look at https://example.com?foo=bar for details</p>", nil, false)
	if flags.HasQuestion {
		t.Fatalf("bare URL question mark must not count: got %+v", flags)
	}

	flags = c.Classify("<p>Isn&#39;t that neat?</p>", nil, false)
	if !flags.HasQuestion {
		t.Fatalf("escaped apostrophe before question mark: got %+v", flags)
	}
}

func TestDomainConfigMatch(t *testing.T) {
	dc := DomainConfig{CategoryNews: {"bbc.com"}}
	cases := []struct {
		host string
		want bool
	}{
		{"bbc.com", true},
		{"news.bbc.com", true},
		{"notbbc.com", false},
		{"bbc.com.evil.tld", false},
	}
	for _, tc := range cases {
		if got := dc.Match(CategoryNews, tc.host); got != tc.want {
			t.Errorf("Match(news, %q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}
