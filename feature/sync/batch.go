package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"workshop-sync/core/workshop"
)

// BatchResult is the aggregate outcome of one pipeline run. FailedIDs is
// the union of metadata-resolution failures and download failures, in the
// order they were encountered.
type BatchResult struct {
	Attempted int
	Succeeded int
	FailedIDs []uint64
}

// Failed reports whether any item failed.
func (r *BatchResult) Failed() bool {
	return len(r.FailedIDs) > 0
}

// Pipeline resolves metadata for a list of item ids under a rate limit and
// feeds validated items to a single download consumer. The two stages
// communicate only through the hand-off queue: the producer may resolve the
// next item's metadata while the consumer is still downloading the previous
// one, and neither ever blocks the other.
type Pipeline struct {
	resolver workshop.Resolver
	executor *Executor
	filters  *Matcher
	log      *zap.Logger
	throttle *Throttle
}

// NewPipeline creates a pipeline. The clock drives the metadata throttle.
func NewPipeline(resolver workshop.Resolver, executor *Executor, filters *Matcher, clock clockwork.Clock, log *zap.Logger) *Pipeline {
	return &Pipeline{
		resolver: resolver,
		executor: executor,
		filters:  filters,
		log:      log,
		throttle: NewThrottle(clock, DefaultResolveInterval),
	}
}

// Run processes every id, downloading each into parentDir/<id>/. One item's
// failure, whether during metadata resolution or download, never aborts the
// rest. Cancellation stops the batch between items.
func (p *Pipeline) Run(ctx context.Context, ids []uint64, parentDir string) *BatchResult {
	// Capacity for every id: the producer hands off without ever blocking
	// on the consumer.
	queue := make(chan Item, len(ids))

	var metaFailed, downloadFailed []uint64
	succeeded := 0

	g := new(errgroup.Group)

	// Metadata producer: the single writer of each pending item.
	g.Go(func() error {
		defer close(queue)
		for i, id := range ids {
			if err := p.throttle.Wait(ctx); err != nil {
				metaFailed = append(metaFailed, ids[i:]...)
				return nil
			}
			item, err := p.resolveOne(ctx, id)
			p.throttle.Stamp()
			if err != nil {
				p.log.Warn("Metadata resolution failed", zap.Uint64("item", id), zap.Error(err))
				metaFailed = append(metaFailed, id)
				continue
			}
			p.log.Info("Queued for download", zap.Uint64("item", id), zap.String("title", item.Title))
			queue <- item
		}
		return nil
	})

	// Download consumer: drains the queue sequentially.
	g.Go(func() error {
		for item := range queue {
			if ctx.Err() != nil {
				downloadFailed = append(downloadFailed, item.ID)
				continue
			}
			target := filepath.Join(parentDir, strconv.FormatUint(item.ID, 10))
			if !p.executor.SyncOne(ctx, item, target, p.filters) {
				downloadFailed = append(downloadFailed, item.ID)
				continue
			}
			succeeded++
		}
		return nil
	})

	_ = g.Wait()

	result := &BatchResult{
		Attempted: len(ids),
		Succeeded: succeeded,
		FailedIDs: append(metaFailed, downloadFailed...),
	}
	p.log.Info("Batch finished",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", len(result.FailedIDs)))
	return result
}

// resolveOne resolves one item and validates that it carries downloadable
// content.
func (p *Pipeline) resolveOne(ctx context.Context, id uint64) (Item, error) {
	details, err := p.resolver.Resolve(ctx, []uint64{id})
	if err != nil {
		return Item{}, err
	}
	if len(details) == 0 {
		return Item{}, fmt.Errorf("item %d: no metadata returned", id)
	}
	d := details[0]
	if !d.OK() {
		return Item{}, fmt.Errorf("item %d: result code %d", id, d.Result)
	}
	return Item{ID: d.ID, AppID: d.ConsumerAppID, Title: d.Title}, nil
}

// ResolveSingle resolves metadata for a single-item invocation, reusing the
// pipeline's validation but no throttle: a lone call needs no spacing.
func ResolveSingle(ctx context.Context, resolver workshop.Resolver, id uint64, timeout time.Duration) (Item, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	p := &Pipeline{resolver: resolver}
	return p.resolveOne(ctx, id)
}
