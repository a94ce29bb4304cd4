package scanner

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestExtractBodySkipsJunkLines(t *testing.T) {
	doc := parseDoc(t, `<html><body><article>
		<p>This is the first real paragraph of the story with enough length.</p>
		<p>Подписывайтесь на наш канал и делитесь новостями с друзьями!</p>
		<p>The second paragraph continues the story in sufficient detail here.</p>
		<p>We use cookies to improve your experience on this website today.</p>
		<p>The third paragraph wraps the story up with a final conclusion.</p>
	</article></body></html>`)

	body := extractBody(doc)
	if strings.Contains(body, "Подписывайтесь") || strings.Contains(strings.ToLower(body), "cookies") {
		t.Errorf("junk lines leaked into body: %q", body)
	}
	if got := len(strings.Split(body, "\n\n")); got != 3 {
		t.Errorf("expected 3 paragraphs, got %d: %q", got, body)
	}
}

func TestExtractTitlePrefersH1(t *testing.T) {
	doc := parseDoc(t, `<html><head><title>Site | Story</title></head><body><h1>Actual headline</h1></body></html>`)
	if got := extractTitle(doc); got != "Actual headline" {
		t.Errorf("got %q", got)
	}
}

func TestExtractImageURLs(t *testing.T) {
	doc := parseDoc(t, `<html><head>
		<meta property="og:image" content="https://cdn.example.com/lead.jpg">
	</head><body><article>
		<img src="/media/photo.png">
		<img src="https://cdn.example.com/lead.jpg">
		<img src="data:image/gif;base64,AAAA">
		<img src="/assets/logo.svg">
	</article></body></html>`)

	urls := extractImageURLs(doc, "https://example.com/news/story")
	if len(urls) != 2 {
		t.Fatalf("expected 2 urls, got %v", urls)
	}
	if urls[0] != "https://cdn.example.com/lead.jpg" {
		t.Errorf("og:image should come first, got %q", urls[0])
	}
	if urls[1] != "https://example.com/media/photo.png" {
		t.Errorf("relative url not resolved: %q", urls[1])
	}
}

func TestNormalizeImageURL(t *testing.T) {
	base, _ := url.Parse("https://example.com/news/story")

	if got := normalizeImageURL("//cdn.example.com/a.jpg", base); got != "https://cdn.example.com/a.jpg" {
		t.Errorf("protocol-relative: %q", got)
	}
	if got := normalizeImageURL("ftp://example.com/a.jpg", nil); got != "" {
		t.Errorf("non-http scheme should be rejected: %q", got)
	}
	if got := normalizeImageURL("/style.css", base); got != "" {
		t.Errorf("stylesheet should be rejected: %q", got)
	}
}

func TestContentHashChangesWithText(t *testing.T) {
	a := contentHash("Title", "body one")
	b := contentHash("Title", "body two")
	c := contentHash("Title", "body one")
	if a == b {
		t.Error("different bodies must hash differently")
	}
	if a != c {
		t.Error("hash must be deterministic")
	}
}

func TestImageExt(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example.com/a.PNG?w=800": ".png",
		"https://cdn.example.com/photo":       ".jpg",
		"https://cdn.example.com/b.jpeg#frag": ".jpeg",
	}
	for in, want := range cases {
		if got := imageExt(in); got != want {
			t.Errorf("imageExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugify(t *testing.T) {
	if got := slugify("Breaking: Big News -- Today!"); got != "breaking-big-news-today" {
		t.Errorf("got %q", got)
	}
}

func TestLoadFeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte("feeds:\n  - https://example.com/rss\n  - https://other.example/feed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	feeds, err := LoadFeeds(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(feeds) != 2 || feeds[0] != "https://example.com/rss" {
		t.Errorf("got %v", feeds)
	}
}

func TestLoadFeedsEmptyIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte("feeds: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFeeds(path); err == nil {
		t.Error("expected error for empty feed list")
	}
}
