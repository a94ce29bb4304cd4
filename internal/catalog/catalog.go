// Package catalog reads and maintains the on-disk article store: one
// directory per article containing meta.json, the body text file and
// downloaded media.
package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/khnews/crosspost/internal/logger"
)

// Article mirrors a meta.json record.
type Article struct {
	ID       int64    `json:"id"`
	Slug     string   `json:"slug,omitempty"`
	Date     string   `json:"date,omitempty"`
	Link     string   `json:"link"`
	Title    string   `json:"title"`
	TextFile string   `json:"text_file"`
	Images   []string `json:"images"`
	Posted   bool     `json:"posted"`
	Hash     string   `json:"hash"`

	dir string // directory the record was loaded from
}

// Dir returns the article's directory on disk.
func (a *Article) Dir() string { return a.dir }

// Store provides read access plus the few mutations the pipeline
// needs (posted flag, retention sweep).
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// Load scans the store directory and returns every readable article
// record. Corrupt or incomplete records are skipped with a warning,
// never fatal.
func (s *Store) Load() ([]Article, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read articles dir %s: %v", s.root, err)
	}

	var articles []Article
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		metaPath := filepath.Join(dir, "meta.json")

		data, err := os.ReadFile(metaPath)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("skipping unreadable meta.json", "dir", dir, "error", err)
			}
			continue
		}

		var a Article
		if err := json.Unmarshal(data, &a); err != nil {
			logger.Warn("skipping corrupt meta.json", "dir", dir, "error", err)
			continue
		}
		a.dir = dir
		articles = append(articles, a)
	}

	return articles, nil
}

// Get returns the article with the given id.
func (s *Store) Get(id int64) (Article, error) {
	articles, err := s.Load()
	if err != nil {
		return Article{}, err
	}
	for _, a := range articles {
		if a.ID == id {
			return a, nil
		}
	}
	return Article{}, fmt.Errorf("article %d not found", id)
}

// Text reads the article body. Historical records reference paths
// prefixed with the store root name, newer ones are relative to the
// article directory; both are resolved.
func (s *Store) Text(a Article) (string, error) {
	if a.TextFile == "" {
		return "", fmt.Errorf("article %d has no text file", a.ID)
	}
	data, err := os.ReadFile(s.ResolvePath(a.TextFile))
	if err != nil {
		return "", fmt.Errorf("read text for article %d: %v", a.ID, err)
	}
	return string(data), nil
}

// ResolvePath maps a meta.json-relative media/text path onto the
// filesystem.
func (s *Store) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	rootName := filepath.Base(s.root) + "/"
	if strings.HasPrefix(p, rootName) {
		return filepath.Join(s.root, strings.TrimPrefix(p, rootName))
	}
	return filepath.Join(s.root, p)
}

// MarkPosted sets the posted flag and rewrites the record.
func (s *Store) MarkPosted(a Article) error {
	a.Posted = true
	return s.writeMeta(a)
}

// MarkCancelled flags an article so it is never transmitted; the
// record shares the posted flag as its terminal state.
func (s *Store) MarkCancelled(id int64) error {
	a, err := s.Get(id)
	if err != nil {
		return err
	}
	if a.Posted {
		return fmt.Errorf("article %d already posted or cancelled", id)
	}
	a.Posted = true
	return s.writeMeta(a)
}

func (s *Store) writeMeta(a Article) error {
	if a.dir == "" {
		return fmt.Errorf("article %d has no backing directory", a.ID)
	}
	data, err := json.MarshalIndent(&a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(a.dir, "meta.json"), data, 0644)
}

// Sweep removes the oldest article directories beyond keep records.
// Ordering follows the numeric id, which grows with scrape time for a
// given feed.
func (s *Store) Sweep(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	articles, err := s.Load()
	if err != nil {
		return 0, err
	}
	if len(articles) <= keep {
		return 0, nil
	}

	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })

	removed := 0
	for _, a := range articles[:len(articles)-keep] {
		if err := os.RemoveAll(a.dir); err != nil {
			logger.Warn("retention sweep failed to remove article", "dir", a.dir, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("retention sweep removed old articles", "removed", removed, "kept", keep)
	}
	return removed, nil
}

// Stats returns aggregate counts by status for the operator bot.
func (s *Store) Stats() (total, posted, pending int, err error) {
	articles, err := s.Load()
	if err != nil {
		return 0, 0, 0, err
	}
	for _, a := range articles {
		if a.Posted {
			posted++
		} else {
			pending++
		}
	}
	return len(articles), posted, pending, nil
}

// DeriveID produces the stable numeric article id from the source
// URL: the first 8 hex digits of the link's md5, parsed as an integer.
// Re-scraping the same URL always yields the same id.
func DeriveID(link string) int64 {
	sum := md5.Sum([]byte(link))
	id, err := strconv.ParseInt(hex.EncodeToString(sum[:])[:8], 16, 64)
	if err != nil {
		// unreachable: 8 hex digits always parse
		return 0
	}
	return id
}
