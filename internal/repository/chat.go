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

type ChatRepository struct {
	base
}

func NewChatRepository(client dynamo.API, table string) *ChatRepository {
	return &ChatRepository{base: newBase(client, table)}
}

func (r *ChatRepository) chatKey(chatID string) dynamo.Key {
	return dynamo.Key{
		"chat_id": {S: aws.String(chatID)},
	}
}

func (r *ChatRepository) Create(ctx context.Context, chat *models.Chat) error {
	item, err := dynamodbattribute.MarshalMap(chat)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	return r.writer(ctx).PutItem(ctx, r.table, item, "attribute_not_exists(chat_id)")
}

func (r *ChatRepository) GetByID(ctx context.Context, chatID string) (*models.Chat, error) {
	out, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       r.chatKey(chatID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chat %s: %w", chatID, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var chat models.Chat
	if err := dynamodbattribute.UnmarshalMap(out.Item, &chat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat %s: %w", chatID, err)
	}
	return &chat, nil
}

// Exists is the cheap read used by access checks; it only fetches the key.
func (r *ChatRepository) Exists(ctx context.Context, chatID string) (bool, error) {
	out, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.table),
		Key:                  r.chatKey(chatID),
		ProjectionExpression: aws.String("chat_id"),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check chat %s: %w", chatID, err)
	}
	return out.Item != nil, nil
}

// Delete removes the chat record, conditioned on it still existing. Inside a
// Unit of Work the condition rides on the Delete itself because a
// transaction may not touch the same item twice.
func (r *ChatRepository) Delete(ctx context.Context, chatID string) error {
	return r.writer(ctx).DeleteItem(ctx, r.table, r.chatKey(chatID), "attribute_exists(chat_id)")
}

// RequireExists buffers a ConditionCheck asserting the chat exists. Only
// valid inside a Unit of Work.
func (r *ChatRepository) RequireExists(ctx context.Context, chatID string) error {
	return r.writer(ctx).ConditionCheck(ctx, r.table, r.chatKey(chatID), "attribute_exists(chat_id)")
}
