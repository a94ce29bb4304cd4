// Package rewrite runs article text through an AI model to strip the
// junk the scraper could not (ads, cookie banners, navigation scraps)
// and translate it to the channel language. Providers are tried in
// order; when every provider fails the caller keeps the original text.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/khnews/crosspost/internal/logger"
)

// promptCharLimit keeps prompts from blowing past model context.
const promptCharLimit = 6000

// Result is the cleaned, translated article text.
type Result struct {
	Title string
	Text  string
}

// Provider is one AI backend. Rewrite returns an error when the model
// call failed or the reply could not be parsed; the chain then moves on.
type Provider interface {
	Name() string
	Rewrite(ctx context.Context, title, text, targetLang string) (*Result, error)
}

// Chain tries providers in order and returns the first success.
type Chain struct {
	providers  []Provider
	targetLang string
}

func NewChain(targetLang string, providers ...Provider) *Chain {
	return &Chain{providers: providers, targetLang: targetLang}
}

// Rewrite returns the first provider's successful result. The error is
// non-nil only when every provider failed; callers are expected to fall
// back to the original text in that case.
func (c *Chain) Rewrite(ctx context.Context, title, text string) (*Result, error) {
	if len(c.providers) == 0 {
		return nil, errors.New("no rewrite providers configured")
	}

	var lastErr error
	for _, p := range c.providers {
		res, err := p.Rewrite(ctx, title, clampPrompt(text), c.targetLang)
		if err != nil {
			logger.Warn("rewrite provider failed", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		if res.Title == "" || res.Text == "" {
			logger.Warn("rewrite provider returned empty fields", "provider", p.Name())
			lastErr = fmt.Errorf("%s: empty rewrite result", p.Name())
			continue
		}
		logger.Debug("rewrite succeeded", "provider", p.Name())
		return res, nil
	}
	return nil, fmt.Errorf("all rewrite providers failed: %w", lastErr)
}

// Providers exposes the configured backends for diagnostics.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// clampPrompt normalizes whitespace and cuts the text on a rune
// boundary, preferring a sentence end.
func clampPrompt(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= promptCharLimit {
		return text
	}
	runes := []rune(text)
	trimmed := string(runes[:promptCharLimit])
	if idx := strings.LastIndex(trimmed, ". "); idx > 1200 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed
}

func buildPrompt(title, text, targetLang string) string {
	lang := languageName(targetLang)
	return fmt.Sprintf(`You are an editor for a news channel. Process the article below:

1. Remove any advertising, cookie notices, navigation text, subscription prompts and other page debris that is not part of the story.
2. Translate the result into %s, keeping the journalistic tone. Do not translate brand and organization names.
3. Do not add commentary or introductions.

Reply strictly in this format:

TITLE: <translated title>

TEXT: <translated article text>

ARTICLE:
Title: %s
Body: %s`, lang, title, text)
}

// parseReply extracts the TITLE/TEXT sections. Continuation lines after
// TEXT: belong to the body, so multi-paragraph replies survive.
func parseReply(reply string) (*Result, error) {
	var title string
	var body strings.Builder
	inText := false

	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "TITLE:"):
			title = strings.TrimSpace(strings.TrimPrefix(line, "TITLE:"))
			inText = false
		case strings.HasPrefix(line, "TEXT:"):
			body.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "TEXT:")))
			inText = true
		case inText:
			if line == "" {
				body.WriteString("\n\n")
			} else {
				if body.Len() > 0 && !strings.HasSuffix(body.String(), "\n\n") {
					body.WriteString(" ")
				}
				body.WriteString(line)
			}
		}
	}

	text := strings.TrimSpace(body.String())
	if title == "" || text == "" {
		return nil, fmt.Errorf("could not parse model reply (title=%t text=%t)", title != "", text != "")
	}
	return &Result{Title: title, Text: text}, nil
}

func languageName(code string) string {
	switch strings.ToLower(code) {
	case "ru":
		return "Russian"
	case "uk", "ukrainian":
		return "Ukrainian"
	case "en":
		return "English"
	case "de":
		return "German"
	case "da":
		return "Danish"
	default:
		return code
	}
}
