// Package migration provisions the DynamoDB tables at startup. Each table
// is created only if DescribeTable says it does not exist yet, then waited
// on until it reports ACTIVE.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"go.uber.org/zap"

	"harmony/internal/config"
	"harmony/internal/dynamo"
	"harmony/internal/repository"
)

type Migrator struct {
	client dynamo.API
	tables config.TableConfig
	logger *zap.Logger
}

func NewMigrator(client dynamo.API, tables config.TableConfig, logger *zap.Logger) *Migrator {
	return &Migrator{
		client: client,
		tables: tables,
		logger: logger,
	}
}

// CreateTables creates the five tables and their secondary indexes.
func (m *Migrator) CreateTables(ctx context.Context) error {
	inputs := []*dynamodb.CreateTableInput{
		m.userDataTable(),
		m.emailSetTable(),
		m.chatDataTable(),
		m.userChatTable(),
		m.chatHistoryTable(),
	}

	for _, input := range inputs {
		if err := m.ensureTable(ctx, input); err != nil {
			return err
		}
	}

	m.logger.Info("all tables ready")
	return nil
}

func (m *Migrator) ensureTable(ctx context.Context, input *dynamodb.CreateTableInput) error {
	name := aws.StringValue(input.TableName)

	_, err := m.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: input.TableName,
	})
	if err == nil {
		m.logger.Debug("table already exists", zap.String("table", name))
		return nil
	}

	m.logger.Info("creating table", zap.String("table", name))
	if _, err := m.client.CreateTableWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	return m.waitForActive(ctx, name)
}

func (m *Migrator) waitForActive(ctx context.Context, name string) error {
	const (
		maxRetries    = 30
		retryInterval = 2 * time.Second
	)

	for i := 0; i < maxRetries; i++ {
		out, err := m.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(name),
		})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", name, err)
		}
		if aws.StringValue(out.Table.TableStatus) == dynamodb.TableStatusActive {
			return nil
		}

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("table %s did not become active within timeout", name)
}

func stringAttr(name string) *dynamodb.AttributeDefinition {
	return &dynamodb.AttributeDefinition{
		AttributeName: aws.String(name),
		AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
	}
}

func hashKey(name string) *dynamodb.KeySchemaElement {
	return &dynamodb.KeySchemaElement{
		AttributeName: aws.String(name),
		KeyType:       aws.String(dynamodb.KeyTypeHash),
	}
}

func rangeKey(name string) *dynamodb.KeySchemaElement {
	return &dynamodb.KeySchemaElement{
		AttributeName: aws.String(name),
		KeyType:       aws.String(dynamodb.KeyTypeRange),
	}
}

func (m *Migrator) userDataTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(m.tables.UserData),
		KeySchema:   []*dynamodb.KeySchemaElement{hashKey("user_id")},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			stringAttr("user_id"),
			stringAttr("email"),
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(repository.EmailIndexName),
				KeySchema: []*dynamodb.KeySchemaElement{hashKey("email")},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
				},
			},
		},
	}
}

func (m *Migrator) emailSetTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:            aws.String(m.tables.EmailSet),
		KeySchema:            []*dynamodb.KeySchemaElement{hashKey("email")},
		BillingMode:          aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{stringAttr("email")},
	}
}

func (m *Migrator) chatDataTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:            aws.String(m.tables.ChatData),
		KeySchema:            []*dynamodb.KeySchemaElement{hashKey("chat_id")},
		BillingMode:          aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{stringAttr("chat_id")},
	}
}

func (m *Migrator) userChatTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(m.tables.UserChat),
		KeySchema: []*dynamodb.KeySchemaElement{
			hashKey("user_id"),
			rangeKey("chat_id"),
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			stringAttr("user_id"),
			stringAttr("chat_id"),
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(repository.ChatIDIndexName),
				KeySchema: []*dynamodb.KeySchemaElement{
					hashKey("chat_id"),
					rangeKey("user_id"),
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeKeysOnly),
				},
			},
		},
	}
}

func (m *Migrator) chatHistoryTable() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(m.tables.ChatHistory),
		KeySchema: []*dynamodb.KeySchemaElement{
			hashKey("chat_id"),
			rangeKey("ulid"),
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			stringAttr("chat_id"),
			stringAttr("ulid"),
		},
	}
}
