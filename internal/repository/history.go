package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"harmony/internal/dynamo"
	"harmony/internal/models"
)

type HistoryRepository struct {
	base
}

func NewHistoryRepository(client dynamo.API, table string) *HistoryRepository {
	return &HistoryRepository{base: newBase(client, table)}
}

// Append writes one immutable message. The condition rejects a ULID
// collision within the chat instead of silently overwriting history.
func (r *HistoryRepository) Append(ctx context.Context, msg *models.Message) error {
	item, err := dynamodbattribute.MarshalMap(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return r.writer(ctx).PutItem(ctx, r.table, item, "attribute_not_exists(chat_id)")
}

// History returns a chat's messages in ULID order, oldest first.
func (r *HistoryRepository) History(ctx context.Context, chatID string) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	err := r.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("chat_id = :cid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":cid": {S: aws.String(chatID)},
		},
	}, func(page *dynamodb.QueryOutput, _ bool) bool {
		for _, item := range page.Items {
			var msg models.Message
			if err := dynamodbattribute.UnmarshalMap(item, &msg); err != nil {
				continue
			}
			messages = append(messages, msg)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history of chat %s: %w", chatID, err)
	}
	return messages, nil
}

// Purge deletes a chat's entire history. Pages of ULIDs are fetched with a
// key-only projection and handed to the batch executor, which enforces the
// 25-item chunking; a chat may hold thousands of messages, far beyond any
// transaction ceiling, which is why deletion happens out of band.
func (r *HistoryRepository) Purge(ctx context.Context, chatID string) error {
	var pageErr error
	err := r.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("chat_id = :cid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":cid": {S: aws.String(chatID)},
		},
		ProjectionExpression: aws.String("ulid"),
	}, func(page *dynamodb.QueryOutput, _ bool) bool {
		keys := make([]dynamo.Key, 0, len(page.Items))
		for _, item := range page.Items {
			keys = append(keys, dynamo.Key{
				"chat_id": {S: aws.String(chatID)},
				"ulid":    {S: item["ulid"].S},
			})
		}
		if pageErr = r.writer(ctx).DeleteBatch(ctx, r.table, keys); pageErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to purge history of chat %s: %w", chatID, err)
	}
	return pageErr
}
