package scanner

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// junkPatterns match lines that are page chrome rather than article
// text: share widgets, cookie banners, subscription prompts.
var junkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(читайте также|смотрите также|подробнее по ссылке|источник:)`),
	regexp.MustCompile(`(?i)(подпис(ыва)?йтесь|поделиться|share this|follow us)`),
	regexp.MustCompile(`(?i)(cookie|gdpr|реклама|advertisement)`),
	regexp.MustCompile(`(?i)(войти|log in|sign up|зарегистрир)`),
	regexp.MustCompile(`^[\s\p{P}]*$`),
}

// bodySelectors are tried in order until one yields paragraphs.
var bodySelectors = []string{
	".article-body p",
	".article-content p",
	".entry-content p",
	".post-content p",
	"article p",
	".content p",
	"main p",
	"p",
}

// extractBody pulls the article paragraphs out of a parsed page.
func extractBody(doc *goquery.Document) string {
	var paragraphs []string
	for _, selector := range bodySelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 20 && !isJunkLine(text) {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 {
			break
		}
		paragraphs = paragraphs[:0]
	}
	// fall through with whatever the last selector produced
	if len(paragraphs) == 0 {
		doc.Find("p").Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 20 && !isJunkLine(text) {
				paragraphs = append(paragraphs, text)
			}
		})
	}
	return strings.Join(paragraphs, "\n\n")
}

func extractTitle(doc *goquery.Document) string {
	for _, selector := range []string{"h1", ".article-title", ".headline", ".entry-title", "title"} {
		if title := strings.TrimSpace(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

func isJunkLine(line string) bool {
	for _, re := range junkPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
}

// extractImageURLs collects article image URLs: og:image first, then
// in-article img tags, absolutized against the page URL, deduplicated,
// order preserved.
func extractImageURLs(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]bool)
	var urls []string
	add := func(raw string) {
		normalized := normalizeImageURL(raw, base)
		if normalized == "" || seen[normalized] {
			return
		}
		seen[normalized] = true
		urls = append(urls, normalized)
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			add(content)
		}
	})
	doc.Find("article img, .article-body img, .content img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src)
		}
		if src, ok := s.Attr("data-src"); ok {
			add(src)
		}
	})

	return urls
}

// normalizeImageURL resolves relative references and rejects anything
// that is not an http(s) image.
func normalizeImageURL(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}

	path := strings.ToLower(u.Path)
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		if !imageExtensions[path[idx:]] {
			// many CDNs serve extensionless images; only reject known
			// non-image extensions
			switch path[idx:] {
			case ".svg", ".ico", ".css", ".js", ".html":
				return ""
			}
		}
	}
	return u.String()
}
