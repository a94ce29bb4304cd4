package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubProvider struct {
	name string
	res  *Result
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Rewrite(context.Context, string, string, string) (*Result, error) {
	return s.res, s.err
}

func TestChainReturnsFirstSuccess(t *testing.T) {
	chain := NewChain("ru",
		&stubProvider{name: "broken", err: errors.New("quota exceeded")},
		&stubProvider{name: "working", res: &Result{Title: "T", Text: "body"}},
		&stubProvider{name: "unused", err: errors.New("should not be reached")},
	)

	res, err := chain.Rewrite(context.Background(), "orig", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Title != "T" || res.Text != "body" {
		t.Errorf("got %+v", res)
	}
}

func TestChainAllFailed(t *testing.T) {
	chain := NewChain("ru",
		&stubProvider{name: "a", err: errors.New("down")},
		&stubProvider{name: "b", res: &Result{Title: "", Text: ""}},
	)

	if _, err := chain.Rewrite(context.Background(), "t", "x"); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestParseReply(t *testing.T) {
	reply := `TITLE: Новый закон принят

TEXT: Парламент одобрил закон в третьем чтении.

Документ вступает в силу с января.`

	res, err := parseReply(reply)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Title != "Новый закон принят" {
		t.Errorf("title: %q", res.Title)
	}
	if !strings.Contains(res.Text, "третьем чтении") || !strings.Contains(res.Text, "с января") {
		t.Errorf("text lost content: %q", res.Text)
	}
	if !strings.Contains(res.Text, "\n\n") {
		t.Errorf("paragraph break lost: %q", res.Text)
	}
}

func TestParseReplyMissingSections(t *testing.T) {
	if _, err := parseReply("some freeform answer"); err == nil {
		t.Fatal("expected parse error for unlabeled reply")
	}
}

func TestClampPromptCutsOnSentence(t *testing.T) {
	sentence := strings.Repeat("word ", 400) + ". "
	long := strings.Repeat(sentence, 10)

	clamped := clampPrompt(long)
	if len([]rune(clamped)) > promptCharLimit {
		t.Errorf("clamped text still over limit: %d runes", len([]rune(clamped)))
	}
	if !strings.HasSuffix(clamped, ".") {
		t.Errorf("expected sentence-boundary cut, got suffix %q", clamped[len(clamped)-10:])
	}
}
