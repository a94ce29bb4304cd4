package poster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/khnews/crosspost/internal/catalog"
	"github.com/khnews/crosspost/internal/ledger"
	"github.com/khnews/crosspost/internal/publish"
)

type call struct {
	articleID int64
	notify    bool
}

type fakePublisher struct {
	name    string
	enabled bool
	failIDs map[int64]bool
	calls   []call
}

func (f *fakePublisher) Name() string  { return f.name }
func (f *fakePublisher) Enabled() bool { return f.enabled }

func (f *fakePublisher) Publish(_ context.Context, p publish.Payload, opts publish.Options) publish.Outcome {
	f.calls = append(f.calls, call{articleID: p.ArticleID, notify: opts.NotifyOnFinal})
	if f.failIDs[p.ArticleID] {
		return publish.Outcome{Platform: f.name, Err: errors.New("send rejected")}
	}
	return publish.Outcome{Platform: f.name, OK: true, PostIDs: []string{"1"}}
}

type passthroughResolver struct{}

func (passthroughResolver) Resolve(_ context.Context, a catalog.Article) (publish.Payload, error) {
	return publish.Payload{ArticleID: a.ID, Title: a.Title, Body: "body"}, nil
}

func writeCatalog(t *testing.T, root string, ids ...int64) *catalog.Store {
	t.Helper()
	for _, id := range ids {
		dir := filepath.Join(root, fmt.Sprintf("a%d", id))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		meta := fmt.Sprintf(`{"id":%d,"link":"https://example.com/%d","title":"Article %d","text_file":"content.txt","posted":false,"hash":"h"}`, id, id, id)
		if err := os.WriteFile(filepath.Join(dir, "meta.json"), []byte(meta), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return catalog.NewStore(root)
}

func newFileLedger(t *testing.T, preload ...int64) ledger.Ledger {
	t.Helper()
	led := ledger.NewFileLedger(filepath.Join(t.TempDir(), "posted.json"), 200)
	if err := led.Load(); err != nil {
		t.Fatal(err)
	}
	for _, id := range preload {
		if err := led.Append(id); err != nil {
			t.Fatal(err)
		}
	}
	return led
}

func TestRunPublishesInAscendingIDOrder(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 103, 101, 102)
	pub := &fakePublisher{name: "telegram", enabled: true}

	p := New(store, newFileLedger(t), passthroughResolver{}, []publish.Publisher{pub}, 0, 0)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []int64{101, 102, 103}
	if len(pub.calls) != len(want) {
		t.Fatalf("expected %d sends, got %d", len(want), len(pub.calls))
	}
	for i, c := range pub.calls {
		if c.articleID != want[i] {
			t.Errorf("send %d: got article %d, want %d", i, c.articleID, want[i])
		}
	}
}

func TestRunNotifiesOnlyOnLastArticle(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 101, 102, 103)
	pub := &fakePublisher{name: "telegram", enabled: true}

	p := New(store, newFileLedger(t), passthroughResolver{}, []publish.Publisher{pub}, 0, 0)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	notified := 0
	for _, c := range pub.calls {
		if c.notify {
			notified++
			if c.articleID != 103 {
				t.Errorf("notification on article %d, want 103", c.articleID)
			}
		}
	}
	if notified != 1 {
		t.Errorf("expected exactly one notifying send, got %d", notified)
	}
}

func TestRunSkipsLedgerEntriesAfterPartialRun(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 101, 102, 103, 104)
	led := newFileLedger(t, 101, 102)
	pub := &fakePublisher{name: "telegram", enabled: true}

	p := New(store, led, passthroughResolver{}, []publish.Publisher{pub}, 0, 0)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []int64{103, 104}
	if len(pub.calls) != len(want) {
		t.Fatalf("expected sends for %v, got %d sends", want, len(pub.calls))
	}
	for i, c := range pub.calls {
		if c.articleID != want[i] {
			t.Errorf("send %d: got %d, want %d", i, c.articleID, want[i])
		}
	}
	for _, id := range []int64{101, 102, 103, 104} {
		if !led.Contains(id) {
			t.Errorf("ledger should contain %d", id)
		}
	}
}

func TestRunSecondaryFailureDoesNotBlockLedger(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 101)
	led := newFileLedger(t)
	primary := &fakePublisher{name: "telegram", enabled: true}
	secondary := &fakePublisher{name: "facebook", enabled: true, failIDs: map[int64]bool{101: true}}

	p := New(store, led, passthroughResolver{}, []publish.Publisher{primary, secondary}, 0, 0)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !led.Contains(101) {
		t.Error("primary success must record the article even when the secondary fails")
	}
	a, err := store.Get(101)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Posted {
		t.Error("article should be flagged posted")
	}
}

func TestRunPrimaryFailureSkipsArticleAndContinues(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 101, 102)
	led := newFileLedger(t)
	pub := &fakePublisher{name: "telegram", enabled: true, failIDs: map[int64]bool{101: true}}

	p := New(store, led, passthroughResolver{}, []publish.Publisher{pub}, 0, 0)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run should not fail on a single bad article: %v", err)
	}

	if led.Contains(101) {
		t.Error("failed article must not enter the ledger")
	}
	if !led.Contains(102) {
		t.Error("subsequent article should still be published")
	}
	a, _ := store.Get(101)
	if a.Posted {
		t.Error("failed article must stay unposted for the next run")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 101, 102)
	led := newFileLedger(t)
	pub := &fakePublisher{name: "telegram", enabled: true}

	p := New(store, led, passthroughResolver{}, []publish.Publisher{pub}, 0, 0)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sends := len(pub.calls)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(pub.calls) != sends {
		t.Errorf("second run resent articles: %d -> %d sends", sends, len(pub.calls))
	}
}

func TestRunEmptyBatchMakesNoCalls(t *testing.T) {
	root := t.TempDir()
	store := writeCatalog(t, root)
	pub := &fakePublisher{name: "telegram", enabled: true}

	p := New(store, newFileLedger(t), passthroughResolver{}, []publish.Publisher{pub}, 0, 0)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(pub.calls) != 0 {
		t.Errorf("expected no sends for empty batch, got %d", len(pub.calls))
	}
}

func TestRunFailsWhenNoPlatformEnabled(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 101)
	pub := &fakePublisher{name: "telegram", enabled: false}

	p := New(store, newFileLedger(t), passthroughResolver{}, []publish.Publisher{pub}, 0, 0)
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error when every platform is disabled")
	}
	if len(pub.calls) != 0 {
		t.Error("disabled publisher must never be called")
	}
}

func TestSelectBatchHonorsLimit(t *testing.T) {
	store := writeCatalog(t, t.TempDir(), 101, 102, 103, 104, 105)

	p := New(store, newFileLedger(t), passthroughResolver{}, nil, 2, 0)
	batch, err := p.SelectBatch()
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(batch))
	}
	if batch[0].ID != 101 || batch[1].ID != 102 {
		t.Errorf("limit must keep the oldest ids, got %d, %d", batch[0].ID, batch[1].ID)
	}
}
