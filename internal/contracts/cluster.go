package contracts

import (
	"context"

	"golang.org/x/sync/errgroup"

	"stever/internal/message"
	"stever/internal/tlwire"
)

// clusterLookupChunk bounds how many strategies are probed concurrently
// while searching for the one wrapping a given depool, mirroring the
// original's chunked FuturesUnordered batching.
const clusterLookupChunk = 10

// Cluster wraps the deployedStrategies() getter a staking cluster exposes,
// and the scan that turns it into a depool-to-strategy lookup.
type Cluster struct {
	Address message.Address
}

var idDeployedStrategies = tlwire.BoxID("stever.deployedStrategies = DeployedStrategiesArgs")

// GetDeployedStrategies runs deployedStrategies() locally and returns the
// set of strategy addresses the cluster has deployed. It shares its wire
// format and decode/encode helpers with the pool's allowedParticipants
// getter (both are plain address sets).
func (c *Cluster) GetDeployedStrategies(ctx context.Context, fetch RawAccountFetcher, runner Runner) ([]message.Address, error) {
	raw, err := runLocal(ctx, fetch, runner, c.Address.Account, tlwire.NewWriter(idDeployedStrategies).Bytes())
	if err != nil {
		return nil, err
	}
	return decodeAddressSet(raw)
}

// FindDeployedStrategyForDepool scans the cluster's deployed strategies,
// clusterLookupChunk at a time, for the one whose getDetails().depool
// matches depool. A strategy whose getDetails() call fails is skipped:
// its error is discarded and it is not treated as a match.
func (c *Cluster) FindDeployedStrategyForDepool(ctx context.Context, fetch RawAccountFetcher, runner Runner, depool message.Address) (message.Address, bool, error) {
	all, err := c.GetDeployedStrategies(ctx, fetch, runner)
	if err != nil {
		return message.Address{}, false, err
	}

	for start := 0; start < len(all); start += clusterLookupChunk {
		end := start + clusterLookupChunk
		if end > len(all) {
			end = len(all)
		}
		chunk := all[start:end]

		details := make([]StrategyDetails, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		for i, addr := range chunk {
			i, addr := i, addr
			g.Go(func() error {
				s := Strategy{Address: addr}
				d, err := s.GetDetails(gctx, fetch, runner)
				if err != nil {
					return nil // skip: this strategy's getter failed, not a match
				}
				details[i] = d
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return message.Address{}, false, err
		}

		for i, d := range details {
			if d.DePool == depool {
				return chunk[i], true, nil
			}
		}
	}

	return message.Address{}, false, nil
}
