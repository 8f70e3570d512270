// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package patterns

import (
	"context"
	"hash/fnv"

	"golang.org/x/sync/errgroup"
)

// ShardOf returns the worker that owns a contact
func ShardOf(contactID string, workers int) int {
	if workers <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(contactID))
	return int(h.Sum32() % uint32(workers))
}

// AggregateAll computes signals for every contact. Each contact is owned
// by exactly one shard goroutine, chosen by ShardOf. The result is keyed
// by contact ID.
func (a *Aggregator) AggregateAll(ctx context.Context, contacts []*Contact, workers int) (map[string][]PatternSignal, error) {
	workers = max(workers, 1)
	shards := make([][]*Contact, workers)
	for _, c := range contacts {
		i := ShardOf(c.ID, workers)
		shards[i] = append(shards[i], c)
	}

	results := make([]map[string][]PatternSignal, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range shards {
		g.Go(func() error {
			out := make(map[string][]PatternSignal, len(shards[i]))
			for _, c := range shards[i] {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[c.ID] = a.Aggregate(c)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string][]PatternSignal, len(contacts))
	for _, m := range results {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged, nil
}
