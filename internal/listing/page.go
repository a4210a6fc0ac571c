// Package listing keeps the landing page data: the artist's collection and
// the number of open commissions, refreshed on a schedule rather than per request.
package listing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"formtato/internal/marketplace"
)

type ItemSource interface {
	ListAssets(ctx context.Context, collection string, limit int) ([]marketplace.Item, error)
}

type UnfinishedCounter interface {
	CountUnfinished(ctx context.Context) (int, error)
}

// Snapshot is what the page renders.
type Snapshot struct {
	Items       []marketplace.Item `json:"items"`
	Unfinished  int                `json:"unfinished"`
	GeneratedAt time.Time          `json:"generatedAt"`
}

type Config struct {
	Collection string
	Limit      int
	// Interval between revalidations; zero serves the empty page forever.
	Interval time.Duration
	// Timeout bounds one revalidation.
	Timeout time.Duration
}

type Page struct {
	items   ItemSource
	counter UnfinishedCounter
	cfg     Config
	log     logrus.FieldLogger

	// OnRevalidate observes every revalidation; err is nil on success.
	OnRevalidate func(snap Snapshot, err error)

	mu   sync.RWMutex
	snap Snapshot

	cron *cron.Cron
}

func NewPage(items ItemSource, counter UnfinishedCounter, cfg Config, log logrus.FieldLogger) *Page {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Page{
		items:   items,
		counter: counter,
		cfg:     cfg,
		log:     log.WithField("component", "listing"),
		snap:    Snapshot{Items: []marketplace.Item{}, GeneratedAt: time.Now().UTC()},
	}
}

func (p *Page) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Revalidate fetches a fresh snapshot. On any error the previous snapshot
// stays in place.
func (p *Page) Revalidate(ctx context.Context) error {
	snap, err := p.fetch(ctx)
	if p.OnRevalidate != nil {
		p.OnRevalidate(snap, err)
	}
	if err != nil {
		p.log.WithError(err).Warn("listing revalidation failed")
		return err
	}

	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
	p.log.WithFields(logrus.Fields{"items": len(snap.Items), "unfinished": snap.Unfinished}).Debug("listing revalidated")
	return nil
}

func (p *Page) fetch(ctx context.Context) (Snapshot, error) {
	items := []marketplace.Item{}
	if p.items != nil {
		got, err := p.items.ListAssets(ctx, p.cfg.Collection, p.cfg.Limit)
		if err != nil {
			return Snapshot{}, fmt.Errorf("list items: %w", err)
		}
		items = got
	}
	unfinished, err := p.counter.CountUnfinished(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count unfinished: %w", err)
	}
	return Snapshot{Items: items, Unfinished: unfinished, GeneratedAt: time.Now().UTC()}, nil
}

// Start revalidates once and then on the configured interval. A zero
// interval leaves the page static.
func (p *Page) Start(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return nil
	}

	run := func() {
		rctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
		_ = p.Revalidate(rctx)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.cfg.Interval), run); err != nil {
		return fmt.Errorf("schedule revalidation: %w", err)
	}
	run()
	c.Start()
	p.cron = c
	return nil
}

// Stop halts the schedule and waits for a running revalidation.
func (p *Page) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}
