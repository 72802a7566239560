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

// ChatIDIndexName is the GSI on UserChat that inverts the key order, so a
// chat's member list can be fanned out from its chat_id.
const ChatIDIndexName = "ChatIdIndex"

type MembershipRepository struct {
	base
}

func NewMembershipRepository(client dynamo.API, table string) *MembershipRepository {
	return &MembershipRepository{base: newBase(client, table)}
}

func (r *MembershipRepository) membershipKey(chatID, userID string) dynamo.Key {
	return dynamo.Key{
		"user_id": {S: aws.String(userID)},
		"chat_id": {S: aws.String(chatID)},
	}
}

// AddMembers writes one membership record per user. Inside a Unit of Work
// the records join the chat-creation transaction; outside one they fan out
// through the batch executor.
func (r *MembershipRepository) AddMembers(ctx context.Context, chatID string, userIDs []string) error {
	items := make([]dynamo.Item, 0, len(userIDs))
	for _, userID := range userIDs {
		item, err := dynamodbattribute.MarshalMap(&models.Membership{
			UserID: userID,
			ChatID: chatID,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal membership: %w", err)
		}
		items = append(items, item)
	}
	return r.writer(ctx).PutBatch(ctx, r.table, items)
}

// IsMember checks for the membership record. Its presence is the sole
// authority for chat participation.
func (r *MembershipRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	out, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       r.membershipKey(chatID, userID),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check membership of %s in %s: %w", userID, chatID, err)
	}
	return out.Item != nil, nil
}

// RequireMember buffers a ConditionCheck asserting the membership record
// exists. Only valid inside a Unit of Work.
func (r *MembershipRepository) RequireMember(ctx context.Context, chatID, userID string) error {
	return r.writer(ctx).ConditionCheck(ctx, r.table, r.membershipKey(chatID, userID), "attribute_exists(user_id)")
}

// RemoveMember deletes one membership record, conditioned on it existing.
func (r *MembershipRepository) RemoveMember(ctx context.Context, chatID, userID string) error {
	return r.writer(ctx).DeleteItem(ctx, r.table, r.membershipKey(chatID, userID), "attribute_exists(user_id)")
}

// ChatsForUser lists the chat ids a user participates in.
func (r *MembershipRepository) ChatsForUser(ctx context.Context, userID string) ([]string, error) {
	out, err := r.client.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":uid": {S: aws.String(userID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chats for user %s: %w", userID, err)
	}

	chatIDs := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		chatIDs = append(chatIDs, aws.StringValue(item["chat_id"].S))
	}
	return chatIDs, nil
}

// MembersOfChat lists a chat's member ids through the ChatIdIndex GSI.
func (r *MembershipRepository) MembersOfChat(ctx context.Context, chatID string) ([]string, error) {
	userIDs := make([]string, 0)
	err := r.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(ChatIDIndexName),
		KeyConditionExpression: aws.String("chat_id = :cid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":cid": {S: aws.String(chatID)},
		},
		ProjectionExpression: aws.String("user_id"),
	}, func(page *dynamodb.QueryOutput, _ bool) bool {
		for _, item := range page.Items {
			userIDs = append(userIDs, aws.StringValue(item["user_id"].S))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list members of chat %s: %w", chatID, err)
	}
	return userIDs, nil
}

// PurgeChat deletes every membership record of a chat. Page by page: look
// the members up through the GSI, then hand the keys to the batch executor.
func (r *MembershipRepository) PurgeChat(ctx context.Context, chatID string) error {
	var pageErr error
	err := r.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(ChatIDIndexName),
		KeyConditionExpression: aws.String("chat_id = :cid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":cid": {S: aws.String(chatID)},
		},
		ProjectionExpression: aws.String("user_id"),
	}, func(page *dynamodb.QueryOutput, _ bool) bool {
		keys := make([]dynamo.Key, 0, len(page.Items))
		for _, item := range page.Items {
			keys = append(keys, r.membershipKey(chatID, aws.StringValue(item["user_id"].S)))
		}
		if pageErr = r.writer(ctx).DeleteBatch(ctx, r.table, keys); pageErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to purge memberships of chat %s: %w", chatID, err)
	}
	return pageErr
}
