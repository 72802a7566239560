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

// EmailIndexName is the GSI on UserData that maps email to the user record,
// used by login.
const EmailIndexName = "EmailIndex"

type UserRepository struct {
	base
}

func NewUserRepository(client dynamo.API, table string) *UserRepository {
	return &UserRepository{base: newBase(client, table)}
}

// Create writes a new user record. The attribute_not_exists condition guards
// against ULID collisions; email uniqueness is the EmailSet repository's job.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	item, err := dynamodbattribute.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return r.writer(ctx).PutItem(ctx, r.table, item, "attribute_not_exists(user_id)")
}

// GetByID returns the user or nil when no record exists.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	out, err := r.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: dynamo.Key{
			"user_id": {S: aws.String(userID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var user models.User
	if err := dynamodbattribute.UnmarshalMap(out.Item, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %w", userID, err)
	}
	return &user, nil
}

// GetByEmail looks a user up through the EmailIndex GSI. Returns nil when no
// user has claimed the email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	out, err := r.client.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(EmailIndexName),
		KeyConditionExpression: aws.String("email = :email"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":email": {S: aws.String(email)},
		},
		Limit: aws.Int64(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var user models.User
	if err := dynamodbattribute.UnmarshalMap(out.Items[0], &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user by email: %w", err)
	}
	return &user, nil
}

// Tombstone marks a user as deleted while keeping the full record, so
// historical messages keep resolving. Returns false when the user does not
// exist.
func (r *UserRepository) Tombstone(ctx context.Context, userID string) (bool, error) {
	user, err := r.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}

	user.Tombstone = true
	item, err := dynamodbattribute.MarshalMap(user)
	if err != nil {
		return false, fmt.Errorf("failed to marshal tombstoned user: %w", err)
	}
	if err := r.writer(ctx).PutItem(ctx, r.table, item, ""); err != nil {
		return false, err
	}
	return true, nil
}
