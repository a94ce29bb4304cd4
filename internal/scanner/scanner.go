// Package scanner fetches the configured RSS feeds, scrapes each new
// article's full text and media and files them into the catalog.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/khnews/crosspost/internal/catalog"
	"github.com/khnews/crosspost/internal/logger"
)

// minBodyLength rejects pages where extraction found only scraps.
const minBodyLength = 100

// requestPause keeps the scraper polite between page fetches.
const requestPause = 500 * time.Millisecond

// PublishedSet lets the scanner skip articles the pipeline already
// delivered, even after their catalog records were swept.
type PublishedSet interface {
	Contains(id int64) bool
}

type Scanner struct {
	store     *catalog.Store
	published PublishedSet // optional
	client    *http.Client
	maxImages int
	maxNew    int // new articles per scan, 0 = unlimited
}

func New(store *catalog.Store, published PublishedSet, timeout time.Duration, maxImages, maxNew int) *Scanner {
	if maxImages <= 0 {
		maxImages = 10
	}
	return &Scanner{
		store:     store,
		published: published,
		client:    &http.Client{Timeout: timeout},
		maxImages: maxImages,
		maxNew:    maxNew,
	}
}

// Scan processes every feed item and returns how many articles were
// added or refreshed. Individual item failures are logged and skipped.
func (s *Scanner) Scan(ctx context.Context, feedURLs []string) (int, error) {
	existing, err := s.store.Load()
	if err != nil {
		return 0, err
	}
	byID := make(map[int64]catalog.Article, len(existing))
	for _, a := range existing {
		byID[a.ID] = a
	}

	items := FetchAllFeeds(feedURLs)

	added := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		fresh, err := s.processItem(ctx, item, byID)
		if err != nil {
			logger.Warn("feed item skipped", "link", item.Link, "error", err)
			continue
		}
		if fresh {
			added++
			if s.maxNew > 0 && added >= s.maxNew {
				logger.Debug("scan limit reached", "limit", s.maxNew)
				break
			}
			sleepCtx(ctx, requestPause)
		}
	}

	logger.Info("scan finished", "items", len(items), "new", added)
	return added, nil
}

// processItem scrapes one feed entry. Returns true when a catalog
// record was written.
func (s *Scanner) processItem(ctx context.Context, item *gofeed.Item, byID map[int64]catalog.Article) (bool, error) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return false, fmt.Errorf("feed item has no link")
	}
	id := catalog.DeriveID(link)

	if prev, ok := byID[id]; ok && prev.Posted {
		return false, nil
	}
	if s.published != nil && s.published.Contains(id) {
		return false, nil
	}

	title, body, imageURLs, err := s.fetchArticle(ctx, link)
	if err != nil {
		return false, err
	}
	if title == "" {
		title = strings.TrimSpace(item.Title)
	}
	if len(body) < minBodyLength {
		return false, fmt.Errorf("extracted body too short (%d chars)", len(body))
	}

	hash := contentHash(title, body)
	if prev, ok := byID[id]; ok && prev.Hash == hash {
		return false, nil
	}

	dir := filepath.Join(s.store.Root(), fmt.Sprintf("%d", id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "content.txt"), []byte(body), 0644); err != nil {
		return false, err
	}

	var images []string
	for i, imgURL := range imageURLs {
		if len(images) >= s.maxImages {
			break
		}
		name := fmt.Sprintf("img_%d%s", i, imageExt(imgURL))
		if err := s.download(ctx, imgURL, filepath.Join(dir, name)); err != nil {
			logger.Warn("image download failed", "url", imgURL, "error", err)
			continue
		}
		images = append(images, name)
	}

	article := catalog.Article{
		ID:       id,
		Slug:     slugify(title),
		Date:     publishedDate(item),
		Link:     link,
		Title:    title,
		TextFile: "content.txt",
		Images:   images,
		Hash:     hash,
	}
	data, err := json.MarshalIndent(&article, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), data, 0644); err != nil {
		return false, err
	}

	byID[id] = article
	logger.Info("article stored", "id", id, "title", title, "images", len(images))
	return true, nil
}

// fetchArticle downloads and parses the article page.
func (s *Scanner) fetchArticle(ctx context.Context, link string) (title, body string, images []string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", "", nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; crosspost/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", nil, fmt.Errorf("load page: %v", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", "", nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", nil, fmt.Errorf("parse page: %v", err)
	}

	return extractTitle(doc), extractBody(doc), extractImageURLs(doc, link), nil
}

func (s *Scanner) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
	}
	return err
}

// contentHash fingerprints the scraped text so edits on the source site
// refresh the record without changing its id.
func contentHash(title, body string) string {
	sum := sha256.Sum256([]byte(title + "\n" + body))
	return hex.EncodeToString(sum[:])
}

func imageExt(rawURL string) string {
	path := rawURL
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		ext := strings.ToLower(path[idx:])
		if imageExtensions[ext] {
			return ext
		}
	}
	return ".jpg"
}

func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteRune('-')
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func publishedDate(item *gofeed.Item) string {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.Format("2006-01-02")
	}
	return time.Now().Format("2006-01-02")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
