package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/khnews/crosspost/internal/catalog"
	"github.com/khnews/crosspost/internal/publish"
	"github.com/khnews/crosspost/internal/rewrite"
)

type failingRewriter struct{}

func (failingRewriter) Rewrite(context.Context, string, string) (*rewrite.Result, error) {
	return nil, errors.New("all providers down")
}

type fixedRewriter struct{ res rewrite.Result }

func (f fixedRewriter) Rewrite(context.Context, string, string) (*rewrite.Result, error) {
	r := f.res
	return &r, nil
}

func writeArticle(t *testing.T, root string, id int64, body string, images []string) catalog.Article {
	t.Helper()
	dir := filepath.Join(root, "article")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "content.txt"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	for _, img := range images {
		if err := os.WriteFile(filepath.Join(dir, img), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	data := `{"id":` + strconv.FormatInt(id, 10) + `,"link":"https://example.com/a","title":"Original title","text_file":"article/content.txt","images":[`
	for i, img := range images {
		if i > 0 {
			data += ","
		}
		data += `"article/` + img + `"`
	}
	data += `],"posted":false,"hash":"h"}`
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	store := catalog.NewStore(root)
	a, err := store.Get(id)
	if err != nil {
		t.Fatalf("get article: %v", err)
	}
	return a
}

func TestResolveFallsBackToOriginalText(t *testing.T) {
	root := t.TempDir()
	a := writeArticle(t, root, 101, "Original body text.", nil)

	r := New(catalog.NewStore(root), failingRewriter{}, nil, nil, "en", "ru")
	p, err := r.Resolve(context.Background(), a)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Title != "Original title" || p.Body != "Original body text." {
		t.Errorf("expected original text on rewrite failure, got %+v", p)
	}
}

func TestResolveUsesRewriteResult(t *testing.T) {
	root := t.TempDir()
	a := writeArticle(t, root, 101, "raw body", nil)

	rw := fixedRewriter{res: rewrite.Result{Title: "Clean title", Text: "Clean body"}}
	r := New(catalog.NewStore(root), rw, nil, nil, "en", "ru")

	p, err := r.Resolve(context.Background(), a)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Title != "Clean title" || p.Body != "Clean body" {
		t.Errorf("got %+v", p)
	}
}

func TestResolveSplitsMedia(t *testing.T) {
	root := t.TempDir()
	a := writeArticle(t, root, 101, "body", []string{"img_0.jpg", "clip_0.mp4", "img_1.png"})

	r := New(catalog.NewStore(root), nil, nil, nil, "en", "ru")
	p, err := r.Resolve(context.Background(), a)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(p.Images) != 2 || len(p.Videos) != 1 {
		t.Fatalf("got %d images, %d videos", len(p.Images), len(p.Videos))
	}
	for _, img := range p.Images {
		if publish.IsVideoPath(img) {
			t.Errorf("video leaked into photos: %q", img)
		}
	}
}

func TestResolveMissingBodyIsFatal(t *testing.T) {
	root := t.TempDir()
	a := writeArticle(t, root, 101, "body", nil)
	if err := os.Remove(filepath.Join(root, "article", "content.txt")); err != nil {
		t.Fatal(err)
	}

	r := New(catalog.NewStore(root), nil, nil, nil, "en", "ru")
	if _, err := r.Resolve(context.Background(), a); err == nil {
		t.Fatal("expected error for unreadable body")
	}
}
