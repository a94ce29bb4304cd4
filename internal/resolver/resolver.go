// Package resolver turns a catalog record into a ready-to-send payload:
// it loads the body text, runs the AI rewrite with its fallbacks,
// splits media into photos and videos and applies the video watermark.
package resolver

import (
	"context"
	"fmt"

	"github.com/khnews/crosspost/internal/catalog"
	"github.com/khnews/crosspost/internal/logger"
	"github.com/khnews/crosspost/internal/publish"
	"github.com/khnews/crosspost/internal/rewrite"
)

// Rewriter is the AI cleanup/translation stage; *rewrite.Chain
// satisfies it.
type Rewriter interface {
	Rewrite(ctx context.Context, title, text string) (*rewrite.Result, error)
}

// Translator is the plain-translation fallback used when the rewrite
// chain fails entirely.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Watermarker stamps videos; failures inside return the original path.
type Watermarker interface {
	Process(ctx context.Context, videoPath string) string
}

type Resolver struct {
	store      *catalog.Store
	rewriter   Rewriter   // optional
	translator Translator // optional
	watermark  Watermarker
	sourceLang string
	targetLang string
}

func New(store *catalog.Store, rw Rewriter, tr Translator, wm Watermarker, sourceLang, targetLang string) *Resolver {
	return &Resolver{
		store:      store,
		rewriter:   rw,
		translator: tr,
		watermark:  wm,
		sourceLang: sourceLang,
		targetLang: targetLang,
	}
}

// Resolve builds the payload for one article. A missing or unreadable
// body is the only hard failure; every enrichment stage degrades to the
// previous text instead of erroring.
func (r *Resolver) Resolve(ctx context.Context, a catalog.Article) (publish.Payload, error) {
	body, err := r.store.Text(a)
	if err != nil {
		return publish.Payload{}, fmt.Errorf("resolve article %d: %w", a.ID, err)
	}

	title, body := r.enrich(ctx, a.ID, a.Title, body)

	var media []string
	for _, rel := range a.Images {
		media = append(media, r.store.ResolvePath(rel))
	}
	photos, videos := publish.SplitMedia(media)

	if r.watermark != nil {
		for i, v := range videos {
			videos[i] = r.watermark.Process(ctx, v)
		}
	}

	return publish.Payload{
		ArticleID: a.ID,
		Title:     title,
		Body:      body,
		Images:    photos,
		Videos:    videos,
	}, nil
}

// enrich runs the rewrite chain, falling back to plain translation and
// finally to the original text.
func (r *Resolver) enrich(ctx context.Context, id int64, title, body string) (string, string) {
	if r.rewriter != nil {
		res, err := r.rewriter.Rewrite(ctx, title, body)
		if err == nil {
			return res.Title, res.Text
		}
		logger.Warn("rewrite failed, falling back", "article", id, "error", err)
	}

	if r.translator != nil {
		translatedTitle, errT := r.translator.Translate(ctx, title, r.sourceLang, r.targetLang)
		translatedBody, errB := r.translator.Translate(ctx, body, r.sourceLang, r.targetLang)
		if errT == nil && errB == nil {
			return translatedTitle, translatedBody
		}
		logger.Warn("translation failed, using original text", "article", id)
	}

	return title, body
}
