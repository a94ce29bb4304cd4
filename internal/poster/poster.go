// Package poster is the publication orchestrator: it selects the batch
// of unposted articles, drives the platform adapters in order and
// records successes in the dedup ledger. All at-most-once guarantees
// live here.
package poster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/khnews/crosspost/internal/catalog"
	"github.com/khnews/crosspost/internal/ledger"
	"github.com/khnews/crosspost/internal/logger"
	"github.com/khnews/crosspost/internal/metrics"
	"github.com/khnews/crosspost/internal/publish"
)

// PayloadResolver prepares one article for transmission.
type PayloadResolver interface {
	Resolve(ctx context.Context, a catalog.Article) (publish.Payload, error)
}

type Poster struct {
	store      *catalog.Store
	ledger     ledger.Ledger
	resolver   PayloadResolver
	publishers []publish.Publisher // fixed order; the first enabled one is primary
	batchLimit int
	delay      time.Duration
}

func New(store *catalog.Store, led ledger.Ledger, res PayloadResolver, publishers []publish.Publisher, batchLimit int, delay time.Duration) *Poster {
	return &Poster{
		store:      store,
		ledger:     led,
		resolver:   res,
		publishers: publishers,
		batchLimit: batchLimit,
		delay:      delay,
	}
}

// SelectBatch returns the next articles to publish: not flagged posted,
// not in the ledger, ascending id, at most batchLimit entries.
func (p *Poster) SelectBatch() ([]catalog.Article, error) {
	articles, err := p.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var batch []catalog.Article
	filtered := 0
	for _, a := range articles {
		if a.Posted {
			continue
		}
		if p.ledger.Contains(a.ID) {
			filtered++
			continue
		}
		batch = append(batch, a)
	}
	if filtered > 0 {
		metrics.DuplicatesFiltered.Add(float64(filtered))
		logger.Debug("ledger filtered already-published articles", "count", filtered)
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

	if p.batchLimit > 0 && len(batch) > p.batchLimit {
		batch = batch[:p.batchLimit]
	}
	metrics.ArticlesSelected.Add(float64(len(batch)))
	return batch, nil
}

// Run executes one publication pass. An empty batch returns immediately
// without touching the network. A failing article is skipped, never
// fatal for the rest of the batch.
func (p *Poster) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	enabled := p.enabledPublishers()
	if len(enabled) == 0 {
		return fmt.Errorf("no publishing platform is configured")
	}

	batch, err := p.SelectBatch()
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		logger.Info("nothing to publish")
		return nil
	}
	logger.Info("publishing batch", "articles", len(batch))

	published := 0
	for i, article := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		opts := publish.Options{NotifyOnFinal: i == len(batch)-1}
		if err := p.publishOne(ctx, article, enabled, opts); err != nil {
			logger.Error("article failed, skipping", "article", article.ID, "error", err)
			metrics.Global.SetError(err.Error())
		} else {
			published++
		}

		if i < len(batch)-1 {
			sleepCtx(ctx, p.delay)
		}
	}

	metrics.Global.SetLastRun()
	logger.Info("batch finished", "published", published, "failed", len(batch)-published)
	return nil
}

// publishOne sends a single article everywhere. The ledger and the
// catalog flag are updated when the primary platform succeeded,
// regardless of secondary outcomes; secondary failures are logged and
// never retried.
func (p *Poster) publishOne(ctx context.Context, article catalog.Article, publishers []publish.Publisher, opts publish.Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic publishing article %d: %v", article.ID, r)
		}
	}()

	payload, err := p.resolver.Resolve(ctx, article)
	if err != nil {
		return err
	}

	primary := publishers[0]
	outcome := primary.Publish(ctx, payload, opts)
	if !outcome.OK {
		metrics.PublishFailures.WithLabelValues(primary.Name()).Inc()
		return fmt.Errorf("%s: %w", primary.Name(), outcome.Err)
	}
	metrics.ArticlesPublished.WithLabelValues(primary.Name()).Inc()
	logger.Info("article published", "article", article.ID, "platform", primary.Name(), "posts", len(outcome.PostIDs))

	// Primary success is the publication event: record it before the
	// secondary platforms run, so a crash cannot cause a repost.
	if err := p.ledger.Append(article.ID); err != nil {
		return fmt.Errorf("record article %d in ledger: %w", article.ID, err)
	}
	if err := p.store.MarkPosted(article); err != nil {
		logger.Warn("failed to flag article posted in catalog", "article", article.ID, "error", err)
	}

	for _, secondary := range publishers[1:] {
		out := secondary.Publish(ctx, payload, publish.Options{})
		if !out.OK {
			metrics.PublishFailures.WithLabelValues(secondary.Name()).Inc()
			logger.Error("secondary platform failed, not retried", "article", article.ID, "platform", secondary.Name(), "error", out.Err)
			continue
		}
		metrics.ArticlesPublished.WithLabelValues(secondary.Name()).Inc()
		logger.Info("article cross-posted", "article", article.ID, "platform", secondary.Name())
	}

	return nil
}

func (p *Poster) enabledPublishers() []publish.Publisher {
	var enabled []publish.Publisher
	for _, pub := range p.publishers {
		if !pub.Enabled() {
			logger.Warn("platform disabled: missing credentials", "platform", pub.Name())
			continue
		}
		enabled = append(enabled, pub)
	}
	return enabled
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
