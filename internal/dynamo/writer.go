package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// Writer is the minimal write contract shared by the direct writer and the
// Unit of Work's transactional writer. Repositories resolve one of the two
// at call time and never learn which they hold.
//
// condition is a DynamoDB ConditionExpression ("" for unconditional). A
// violated condition surfaces as ErrConditionFailed — immediately from the
// direct writer, at commit time from the transactional one.
type Writer interface {
	PutItem(ctx context.Context, table string, item Item, condition string) error
	PutBatch(ctx context.Context, table string, items []Item) error
	DeleteItem(ctx context.Context, table string, key Key, condition string) error
	DeleteBatch(ctx context.Context, table string, keys []Key) error

	// ConditionCheck asserts a condition on a record the transaction does not
	// otherwise touch. Only the transactional writer supports it.
	ConditionCheck(ctx context.Context, table string, key Key, condition string) error
}

// DirectWriter applies writes immediately against the store. Multi-item
// writes go through the batch fan-out executor and carry no cross-item
// atomicity guarantee.
type DirectWriter struct {
	client API
}

func NewDirectWriter(client API) *DirectWriter {
	return &DirectWriter{client: client}
}

func (w *DirectWriter) PutItem(ctx context.Context, table string, item Item, condition string) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}

	if _, err := w.client.PutItemWithContext(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("%w: put %s: %v", ErrConditionFailed, table, err)
		}
		return fmt.Errorf("failed to put item in %s: %w", table, err)
	}
	return nil
}

func (w *DirectWriter) PutBatch(ctx context.Context, table string, items []Item) error {
	requests := make([]*dynamodb.WriteRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, &dynamodb.WriteRequest{
			PutRequest: &dynamodb.PutRequest{Item: item},
		})
	}
	return batchWrite(ctx, w.client, table, requests)
}

func (w *DirectWriter) DeleteItem(ctx context.Context, table string, key Key, condition string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       key,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}

	if _, err := w.client.DeleteItemWithContext(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("%w: delete %s: %v", ErrConditionFailed, table, err)
		}
		return fmt.Errorf("failed to delete item in %s: %w", table, err)
	}
	return nil
}

func (w *DirectWriter) DeleteBatch(ctx context.Context, table string, keys []Key) error {
	requests := make([]*dynamodb.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, &dynamodb.WriteRequest{
			DeleteRequest: &dynamodb.DeleteRequest{Key: key},
		})
	}
	return batchWrite(ctx, w.client, table, requests)
}

func (w *DirectWriter) ConditionCheck(ctx context.Context, table string, key Key, condition string) error {
	return fmt.Errorf("%w: condition check on %s", ErrNoTransaction, table)
}
