package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb"
	"golang.org/x/sync/errgroup"
)

const (
	// batchMaxItems is DynamoDB's per-call BatchWriteItem ceiling.
	batchMaxItems = 25

	batchMaxAttempts = 5
	batchBaseDelay   = 50 * time.Millisecond
)

// batchWrite fans an unconditional multi-item write out across the store's
// 25-item batch calls. Chunks are issued concurrently; each chunk re-submits
// whatever the store reports as unprocessed, backing off between attempts,
// and gives up with ErrBatchWriteExhausted once the attempt budget is spent.
func batchWrite(ctx context.Context, client API, table string, requests []*dynamodb.WriteRequest) error {
	if len(requests) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(requests); start += batchMaxItems {
		chunk := requests[start:min(start+batchMaxItems, len(requests))]
		g.Go(func() error {
			return writeChunk(ctx, client, table, chunk)
		})
	}
	return g.Wait()
}

func writeChunk(ctx context.Context, client API, table string, chunk []*dynamodb.WriteRequest) error {
	pending := chunk

	for attempt := 0; attempt < batchMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := batchBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		out, err := client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]*dynamodb.WriteRequest{table: pending},
		})
		if err != nil {
			return fmt.Errorf("failed to batch write to %s: %w", table, err)
		}

		pending = out.UnprocessedItems[table]
		if len(pending) == 0 {
			return nil
		}
	}

	return fmt.Errorf("%w: %d items not applied to %s after %d attempts",
		ErrBatchWriteExhausted, len(pending), table, batchMaxAttempts)
}
