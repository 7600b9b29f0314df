// Package walker drives the masterchain tip forward, fetches every shard
// block newly referenced since the prior shards edge, and dispatches their
// transactions into a Registry of pending messages and account
// subscriptions.
package walker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stever/internal/blockdata"
	"stever/internal/chain"
	"stever/internal/noderpc"
)

// defaultTipTTL is how long a cached masterchain tip is reused before the
// walker re-fetches the node's last applied block.
const defaultTipTTL = 10 * time.Second

// defaultPollInterval drives step attempts independent of new
// subscriptions, so a step that failed gets retried without waiting for a
// subscriber to show up. A tick while the registry is empty runs no step,
// so the cached tip is not refreshed while idle.
const defaultPollInterval = 2 * time.Second

// StatsClient is the subset of noderpc.Client the walker needs to locate
// the node's last applied masterchain block.
type StatsClient interface {
	GetStats(ctx context.Context) (noderpc.NodeStats, error)
}

// BlockFetcher is the subset of overlay.Client the walker needs to fetch
// block bodies.
type BlockFetcher interface {
	GetBlock(ctx context.Context, id chain.BlockID) ([]byte, error)
	GetNextBlock(ctx context.Context, prevID chain.BlockID) ([]byte, chain.BlockID, error)
}

// Config configures a Walker. Stats, Blocks and Registry are required; the
// rest default to production values.
type Config struct {
	Stats    StatsClient
	Blocks   BlockFetcher
	Registry *Registry

	Clock        clock.Clock
	Log          *logrus.Entry
	TipTTL       time.Duration
	PollInterval time.Duration
}

// Walker is the single long-lived masterchain/shard block walker.
type Walker struct {
	stats    StatsClient
	blocks   BlockFetcher
	registry *Registry
	clock    clock.Clock
	log      *logrus.Entry

	tipTTL       time.Duration
	pollInterval time.Duration

	tip atomic.Pointer[storedTip]
}

type storedTip struct {
	block    *blockdata.Block
	genUtime uint32
	edge     chain.Edge
}

// New builds a Walker from cfg, applying defaults for unset fields.
func New(cfg Config) *Walker {
	w := &Walker{
		stats:        cfg.Stats,
		blocks:       cfg.Blocks,
		registry:     cfg.Registry,
		clock:        cfg.Clock,
		log:          cfg.Log,
		tipTTL:       cfg.TipTTL,
		pollInterval: cfg.PollInterval,
	}
	if w.clock == nil {
		w.clock = clock.New()
	}
	if w.log == nil {
		w.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if w.tipTTL <= 0 {
		w.tipTTL = defaultTipTTL
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	return w
}

// Run walks blocks until ctx is cancelled. It idles, woken by either a new
// subscription/pending message or the poll interval, whenever the registry
// has nothing outstanding.
func (w *Walker) Run(ctx context.Context) {
	ticker := w.clock.Ticker(w.pollInterval)
	defer ticker.Stop()

	for {
		if w.registry.Count() > 0 {
			for {
				more, err := w.step(ctx)
				if err != nil {
					w.log.WithError(err).Error("block walk step failed, will retry")
					break
				}
				if !more {
					break
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-w.registry.Changed():
		case <-ticker.C:
		}
	}
}

// step advances the walker by exactly one masterchain block. It returns
// whether the registry still has outstanding work, mirroring the signal
// Run uses to decide whether to keep stepping without waiting.
func (w *Walker) step(ctx context.Context) (bool, error) {
	tip, err := w.getTip(ctx)
	if err != nil {
		return false, fmt.Errorf("walker: get tip: %w", err)
	}

	nextRaw, _, err := w.blocks.GetNextBlock(ctx, tip.block.ID)
	if err != nil {
		return false, fmt.Errorf("walker: get next block: %w", err)
	}
	next, err := blockdata.Decode(nextRaw)
	if err != nil {
		return false, fmt.Errorf("walker: decode next block: %w", err)
	}

	shardBlocks, err := w.collectShardBlocks(ctx, next.ShardDescrs, tip.edge)
	if err != nil {
		return false, fmt.Errorf("walker: collect shard blocks: %w", err)
	}
	sort.Slice(shardBlocks, func(i, j int) bool {
		if shardBlocks[i].GenUtime != shardBlocks[j].GenUtime {
			return shardBlocks[i].GenUtime < shardBlocks[j].GenUtime
		}
		return shardBlocks[i].ID.Seq < shardBlocks[j].ID.Seq
	})

	for _, b := range shardBlocks {
		w.registry.Dispatch(b)
	}
	w.registry.Dispatch(next)

	w.registry.GC(next.GenUtime)

	w.tip.Store(&storedTip{
		block:    next,
		genUtime: next.GenUtime,
		edge:     chain.NewEdge(shardSeqNumbers(next.ShardDescrs)),
	})

	return w.registry.Count() > 0, nil
}

// getTip returns the cached masterchain tip if it's still within TipTTL of
// now, otherwise fetches the node's last applied block fresh.
func (w *Walker) getTip(ctx context.Context) (*storedTip, error) {
	if cached := w.tip.Load(); cached != nil {
		age := w.clock.Now().Unix() - int64(cached.genUtime)
		if age >= 0 && age < int64(w.tipTTL/time.Second) {
			return cached, nil
		}
	}

	stats, err := w.stats.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	if !stats.Ready {
		return nil, fmt.Errorf("node not ready: %s", stats.SyncStatus)
	}

	raw, err := w.blocks.GetBlock(ctx, stats.LastMcBlock)
	if err != nil {
		return nil, err
	}
	b, err := blockdata.Decode(raw)
	if err != nil {
		return nil, err
	}

	tip := &storedTip{
		block:    b,
		genUtime: b.GenUtime,
		edge:     chain.NewEdge(shardSeqNumbers(b.ShardDescrs)),
	}
	w.tip.Store(tip)
	return tip, nil
}

// collectShardBlocks walks backward from every shard descriptor in descrs
// until it reaches a block not strictly after edge, one goroutine per
// descriptor since the chains are independent.
func (w *Walker) collectShardBlocks(ctx context.Context, descrs map[chain.ShardID]chain.BlockID, edge chain.Edge) ([]*blockdata.Block, error) {
	if len(descrs) == 0 {
		return nil, nil
	}

	var (
		mu  sync.Mutex
		all []*blockdata.Block
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range descrs {
		id := id
		g.Go(func() error {
			blocks, err := w.walkBackward(gctx, id, edge)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, blocks...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (w *Walker) walkBackward(ctx context.Context, start chain.BlockID, edge chain.Edge) ([]*blockdata.Block, error) {
	var blocks []*blockdata.Block
	stack := []chain.BlockID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		raw, err := w.blocks.GetBlock(ctx, id)
		if err != nil {
			return nil, err
		}
		b, err := blockdata.Decode(raw)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)

		if edge.IsStrictlyAfter(b.Prev1) {
			stack = append(stack, b.Prev1)
		}
		if b.Prev2 != nil && edge.IsStrictlyAfter(*b.Prev2) {
			stack = append(stack, *b.Prev2)
		}
	}
	return blocks, nil
}

func shardSeqNumbers(descrs map[chain.ShardID]chain.BlockID) map[chain.ShardID]uint32 {
	out := make(map[chain.ShardID]uint32, len(descrs))
	for shard, id := range descrs {
		out[shard] = id.Seq
	}
	return out
}
