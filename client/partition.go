package client

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunquery/internal/queue"
	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

// PartitionedDocument is a document tagged with the range that produced it.
type PartitionedDocument struct {
	Partition Partition
	Document  *wire.Document
}

// PartitionedObject is the typed form of PartitionedDocument.
type PartitionedObject[T any] struct {
	Partition Partition
	Object    T
}

type partitionRange struct {
	partition Partition
	params    QueryParams
}

type partitionResult struct {
	item PartitionedDocument
	err  error
}

// partitionRanges pairs consecutive bounds of [nil, c1, ..., cn, nil] into
// n+1 sub-queries covering the whole query.
func partitionRanges(base QueryParams, cursors []wire.Cursor) []partitionRange {
	bounds := make([]*wire.Cursor, 0, len(cursors)+2)
	bounds = append(bounds, nil)
	for i := range cursors {
		bounds = append(bounds, &cursors[i])
	}
	bounds = append(bounds, nil)

	ranges := make([]partitionRange, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		params := base
		if lo := bounds[i]; lo != nil {
			params = params.WithStartAt(lo)
		}
		if hi := bounds[i+1]; hi != nil {
			params = params.WithEndAt(hi)
		}
		ranges = append(ranges, partitionRange{
			partition: Partition{StartAt: params.StartAt, EndAt: params.EndAt},
			params:    params,
		})
	}
	return ranges
}

// StreamPartitionQueryDocWithErrors splits the query into ranges using the
// server's partition cursors and runs at most parallelism ranges at once.
// Results arrive in completion order, each tagged with its range. When the
// server returns no cursors the query runs unpartitioned and every result
// carries an empty Partition.
//
// parallelism <= 0 uses the configured default. Range queries run in the
// background under ctx; they finish even if the consumer stops early.
func (c *Client) StreamPartitionQueryDocWithErrors(ctx context.Context, parallelism int, params PartitionQueryParams) (iter.Seq2[PartitionedDocument, error], error) {
	span := c.startSpan("partition_query", params.Query)
	if parallelism <= 0 {
		parallelism = c.defaultParallelism
	}
	span.logger.Debug("[DB]: Running query on partitions", "parallelism", parallelism)

	cursorStream, err := c.StreamPartitionCursorsWithErrors(ctx, params)
	if err != nil {
		return nil, err
	}
	cursors, err := cursorStream.Collect()
	if err != nil {
		return nil, err
	}
	metrics.PartitionCursors.Add(float64(len(cursors)))

	if len(cursors) == 0 {
		span.logger.Debug("[DB]: Query has too few results to be partitioned, falling back to an unpartitioned query")
		docs, err := c.StreamQueryDocWithErrors(ctx, params.Query)
		if err != nil {
			return nil, err
		}
		return func(yield func(PartitionedDocument, error) bool) {
			for doc, err := range docs {
				if !yield(PartitionedDocument{Document: doc}, err) {
					return
				}
			}
		}, nil
	}

	pool, err := ants.NewPool(parallelism, ants.WithPanicHandler(func(p interface{}) {
		span.logger.Error("[DB]: Partition worker panicked", "panic", p)
	}))
	if err != nil {
		return nil, errors.Configurationf("partition worker pool of %d: %v", parallelism, err)
	}

	results := queue.New[partitionResult]()
	go c.runPartitions(ctx, pool, partitionRanges(params.Query, cursors), results, span)

	return func(yield func(PartitionedDocument, error) bool) {
		for {
			r, ok := results.Pop(context.Background())
			if !ok {
				return
			}
			if !yield(r.item, r.err) {
				return
			}
		}
	}, nil
}

// runPartitions feeds every range to the pool and closes results once all
// of them finished.
func (c *Client) runPartitions(ctx context.Context, pool *ants.Pool, ranges []partitionRange, results *queue.Queue[partitionResult], span *querySpan) {
	var wg sync.WaitGroup
	for _, r := range ranges {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			c.runPartition(ctx, r, results, span)
		})
		if err != nil {
			wg.Done()
			c.deliver(results, partitionResult{
				item: PartitionedDocument{Partition: r.partition},
				err:  fmt.Errorf("submit partition %s: %w", r.partition, err),
			}, span)
		}
	}
	wg.Wait()
	pool.Release()
	results.Close()
}

func (c *Client) runPartition(ctx context.Context, r partitionRange, results *queue.Queue[partitionResult], span *querySpan) {
	metrics.PartitionWorkersInFlight.Inc()
	defer metrics.PartitionWorkersInFlight.Dec()

	span.logger.Debug("[DB]: Streaming partition", "partition", r.partition.String())
	docs, err := c.StreamQueryDocWithErrors(ctx, r.params)
	if err != nil {
		c.deliver(results, partitionResult{item: PartitionedDocument{Partition: r.partition}, err: err}, span)
		return
	}
	for doc, err := range docs {
		c.deliver(results, partitionResult{item: PartitionedDocument{Partition: r.partition, Document: doc}, err: err}, span)
	}
}

func (c *Client) deliver(results *queue.Queue[partitionResult], r partitionResult, span *querySpan) {
	if !results.Push(r) {
		span.logger.Warn("[DB]: Unable to send result for partition", "partition", r.item.Partition.String())
	}
}

// StreamPartitionQueryObjWithErrors is the typed form of
// StreamPartitionQueryDocWithErrors.
func StreamPartitionQueryObjWithErrors[T any](ctx context.Context, c *Client, parallelism int, params PartitionQueryParams) (iter.Seq2[PartitionedObject[T], error], error) {
	docs, err := c.StreamPartitionQueryDocWithErrors(ctx, parallelism, params)
	if err != nil {
		return nil, err
	}
	return func(yield func(PartitionedObject[T], error) bool) {
		for pd, err := range docs {
			if err != nil {
				if !yield(PartitionedObject[T]{Partition: pd.Partition}, err) {
					return
				}
				continue
			}
			v, err := Decode[T](pd.Document)
			if !yield(PartitionedObject[T]{Partition: pd.Partition, Object: v}, err) {
				return
			}
		}
	}, nil
}
