package queue

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/starford/fraudlink/internal/models"
)

// Handler processes one transaction. A non-nil error marks the envelope failed.
type Handler func(ctx context.Context, tx models.Transaction) error

// Consumer feeds inbox envelopes to a bounded pool of handlers.
type Consumer struct {
	spool       *Spool
	handle      Handler
	concurrency int
	log         *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewConsumer creates a consumer running at most concurrency handlers at once.
func NewConsumer(spool *Spool, handle Handler, concurrency int, logger *slog.Logger) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		spool:       spool,
		handle:      handle,
		concurrency: concurrency,
		log:         logger,
		inflight:    make(map[string]struct{}),
	}
}

// Drain processes every envelope already in the inbox and waits for them.
func (c *Consumer) Drain(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	if err := c.drain(gctx, g); err != nil {
		return err
	}
	return g.Wait()
}

func (c *Consumer) drain(ctx context.Context, g *errgroup.Group) error {
	names, err := c.spool.Pending()
	if err != nil {
		return err
	}
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		c.dispatch(ctx, g, name)
	}
	return nil
}

// Run drains the inbox, then watches it and processes new envelopes until ctx
// is cancelled. In-flight handlers finish before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(c.spool.InboxDir()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	// Watch before draining so files landing in between are not missed.
	if err := c.drain(gctx, g); err != nil {
		return err
	}
	c.log.Info("queue: started",
		slog.String("inbox", c.spool.InboxDir()),
		slog.Int("concurrency", c.concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			err := g.Wait()
			c.log.Info("queue: stopped")
			return err

		case ev, ok := <-w.Events:
			if !ok {
				return g.Wait()
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isEnvelope(name) {
				continue
			}
			c.dispatch(gctx, g, name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return g.Wait()
			}
			c.log.Error("queue: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// dispatch schedules name unless it is already being handled.
func (c *Consumer) dispatch(ctx context.Context, g *errgroup.Group, name string) {
	c.mu.Lock()
	if _, busy := c.inflight[name]; busy {
		c.mu.Unlock()
		return
	}
	c.inflight[name] = struct{}{}
	c.mu.Unlock()

	g.Go(func() error {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, name)
			c.mu.Unlock()
		}()
		c.process(ctx, name)
		return nil
	})
}

func (c *Consumer) process(ctx context.Context, name string) {
	if !c.spool.exists(name) {
		return
	}
	tx, err := c.spool.Read(name)
	if err == nil {
		err = c.handle(ctx, tx)
	}
	if err != nil && ctx.Err() != nil {
		// Shutting down; the envelope stays in the inbox for the next start.
		c.log.Info("queue: envelope deferred", slog.String("file", name))
		return
	}
	if err != nil {
		c.log.Warn("queue: envelope failed",
			slog.String("file", name),
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
		if mvErr := c.spool.MarkFailed(name, err); mvErr != nil {
			c.log.Error("queue: mark failed", slog.String("file", name), slog.String("error", mvErr.Error()))
		}
		return
	}
	if mvErr := c.spool.MarkDone(name); mvErr != nil {
		c.log.Error("queue: mark done", slog.String("file", name), slog.String("error", mvErr.Error()))
		return
	}
	c.log.Debug("queue: envelope done", slog.String("file", name), slog.String("transaction_id", tx.ID))
}
