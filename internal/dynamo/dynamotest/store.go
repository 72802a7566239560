// Package dynamotest provides an in-memory stand-in for the slice of the
// DynamoDB API this project uses. It models real key schemas, conditional
// writes, all-or-nothing transactions and unprocessed batch items, so the
// consistency layer can be exercised without AWS.
package dynamotest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// keySep joins partition and sort key values into one map key. ULIDs and
// emails never contain a unit separator.
const keySep = "\x1f"

// Index describes a global secondary index.
type Index struct {
	Name         string
	PartitionKey string
	SortKey      string
}

// Table describes a table's key schema.
type Table struct {
	Name         string
	PartitionKey string
	SortKey      string
	Indexes      []Index
}

type table struct {
	spec  Table
	items map[string]map[string]*dynamodb.AttributeValue
}

// Store is a concurrency-safe in-memory DynamoDB. The zero value is not
// usable; create one with New.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table

	// unprocessedBatches makes the next N BatchWriteItem calls return all of
	// their input as unprocessed, without applying anything.
	unprocessedBatches int

	batchSizes    []int
	transactCalls int
}

func New(specs ...Table) *Store {
	s := &Store{tables: make(map[string]*table)}
	for _, spec := range specs {
		s.tables[spec.Name] = &table{
			spec:  spec,
			items: make(map[string]map[string]*dynamodb.AttributeValue),
		}
	}
	return s
}

// FailBatches makes the next n BatchWriteItem calls report every item as
// unprocessed.
func (s *Store) FailBatches(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unprocessedBatches = n
}

// BatchSizes returns the item count of every BatchWriteItem call so far,
// including retries.
func (s *Store) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batchSizes...)
}

// TransactCalls returns how many TransactWriteItems calls the store has seen.
func (s *Store) TransactCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactCalls
}

// Count returns the number of items in a table.
func (s *Store) Count(tableName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return 0
	}
	return len(t.items)
}

// Seed inserts an item directly, bypassing conditions.
func (s *Store) Seed(tableName string, item map[string]*dynamodb.AttributeValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[tableName]
	t.items[t.keyOf(item)] = cloneItem(item)
}

func (t *table) keyOf(item map[string]*dynamodb.AttributeValue) string {
	key := attrString(item[t.spec.PartitionKey])
	if t.spec.SortKey != "" {
		key += keySep + attrString(item[t.spec.SortKey])
	}
	return key
}

func attrString(av *dynamodb.AttributeValue) string {
	if av == nil {
		return ""
	}
	if av.S != nil {
		return *av.S
	}
	if av.N != nil {
		return *av.N
	}
	return ""
}

func cloneItem(item map[string]*dynamodb.AttributeValue) map[string]*dynamodb.AttributeValue {
	out := make(map[string]*dynamodb.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (s *Store) table(name *string) (*table, error) {
	t, ok := s.tables[aws.StringValue(name)]
	if !ok {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException,
			fmt.Sprintf("table %s not found", aws.StringValue(name)), nil)
	}
	return t, nil
}

// checkCondition evaluates the attribute_exists / attribute_not_exists
// expressions this project uses against the current item (nil when absent).
func checkCondition(expr string, current map[string]*dynamodb.AttributeValue) bool {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "attribute_not_exists("):
		attr := strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_not_exists("), ")")
		if current == nil {
			return true
		}
		_, ok := current[attr]
		return !ok
	case strings.HasPrefix(expr, "attribute_exists("):
		attr := strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_exists("), ")")
		if current == nil {
			return false
		}
		_, ok := current[attr]
		return ok
	case expr == "":
		return true
	}
	panic(fmt.Sprintf("dynamotest: unsupported condition expression %q", expr))
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException,
		"The conditional request failed", nil)
}

func (s *Store) GetItemWithContext(_ aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(input.TableName)
	if err != nil {
		return nil, err
	}

	item, ok := t.items[t.keyOf(input.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: cloneItem(item)}, nil
}

func (s *Store) PutItemWithContext(_ aws.Context, input *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(input.TableName)
	if err != nil {
		return nil, err
	}

	key := t.keyOf(input.Item)
	if !checkCondition(aws.StringValue(input.ConditionExpression), t.items[key]) {
		return nil, conditionFailed()
	}
	t.items[key] = cloneItem(input.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (s *Store) DeleteItemWithContext(_ aws.Context, input *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(input.TableName)
	if err != nil {
		return nil, err
	}

	key := t.keyOf(input.Key)
	if !checkCondition(aws.StringValue(input.ConditionExpression), t.items[key]) {
		return nil, conditionFailed()
	}
	delete(t.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

// query resolves the single-equality key condition ("attr = :v") this
// project issues, optionally against a GSI, and returns matches ordered by
// the relevant sort key.
func (s *Store) query(input *dynamodb.QueryInput) ([]map[string]*dynamodb.AttributeValue, error) {
	t, err := s.table(input.TableName)
	if err != nil {
		return nil, err
	}

	expr := aws.StringValue(input.KeyConditionExpression)
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return nil, awserr.New("ValidationException",
			fmt.Sprintf("unsupported key condition %q", expr), nil)
	}
	attr := strings.TrimSpace(parts[0])
	placeholder := strings.TrimSpace(parts[1])
	want := attrString(input.ExpressionAttributeValues[placeholder])

	partitionKey := t.spec.PartitionKey
	sortKey := t.spec.SortKey
	if indexName := aws.StringValue(input.IndexName); indexName != "" {
		found := false
		for _, idx := range t.spec.Indexes {
			if idx.Name == indexName {
				partitionKey, sortKey = idx.PartitionKey, idx.SortKey
				found = true
			}
		}
		if !found {
			return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException,
				fmt.Sprintf("index %s not found", indexName), nil)
		}
	}
	if attr != partitionKey {
		return nil, awserr.New("ValidationException",
			fmt.Sprintf("key condition attribute %q does not match partition key %q", attr, partitionKey), nil)
	}

	var matches []map[string]*dynamodb.AttributeValue
	for _, item := range t.items {
		if attrString(item[partitionKey]) == want {
			matches = append(matches, cloneItem(item))
		}
	}
	if sortKey != "" {
		sort.Slice(matches, func(i, j int) bool {
			return attrString(matches[i][sortKey]) < attrString(matches[j][sortKey])
		})
	}
	return matches, nil
}

func (s *Store) QueryWithContext(_ aws.Context, input *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.query(input)
	if err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{
		Items: items,
		Count: aws.Int64(int64(len(items))),
	}, nil
}

func (s *Store) QueryPagesWithContext(ctx aws.Context, input *dynamodb.QueryInput, fn func(*dynamodb.QueryOutput, bool) bool, opts ...request.Option) error {
	out, err := s.QueryWithContext(ctx, input, opts...)
	if err != nil {
		return err
	}
	fn(out, true)
	return nil
}

func (s *Store) BatchWriteItemWithContext(_ aws.Context, input *dynamodb.BatchWriteItemInput, _ ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, requests := range input.RequestItems {
		total += len(requests)
	}
	s.batchSizes = append(s.batchSizes, total)
	if total > 25 {
		return nil, awserr.New("ValidationException",
			fmt.Sprintf("batch of %d items exceeds the 25 item limit", total), nil)
	}

	if s.unprocessedBatches > 0 {
		s.unprocessedBatches--
		return &dynamodb.BatchWriteItemOutput{UnprocessedItems: input.RequestItems}, nil
	}

	for tableName, requests := range input.RequestItems {
		t, err := s.table(aws.String(tableName))
		if err != nil {
			return nil, err
		}
		for _, req := range requests {
			switch {
			case req.PutRequest != nil:
				t.items[t.keyOf(req.PutRequest.Item)] = cloneItem(req.PutRequest.Item)
			case req.DeleteRequest != nil:
				delete(t.items, t.keyOf(req.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (s *Store) TransactWriteItemsWithContext(_ aws.Context, input *dynamodb.TransactWriteItemsInput, _ ...request.Option) (*dynamodb.TransactWriteItemsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactCalls++
	if len(input.TransactItems) > 100 {
		return nil, awserr.New("ValidationException",
			fmt.Sprintf("transaction of %d operations exceeds the 100 operation limit", len(input.TransactItems)), nil)
	}

	// Evaluate every condition against the pre-transaction state before
	// applying anything, mirroring the store's all-or-nothing semantics.
	reasons := make([]*dynamodb.CancellationReason, len(input.TransactItems))
	failed := false
	for i, op := range input.TransactItems {
		ok := true
		switch {
		case op.Put != nil:
			t, err := s.table(op.Put.TableName)
			if err != nil {
				return nil, err
			}
			ok = checkCondition(aws.StringValue(op.Put.ConditionExpression), t.items[t.keyOf(op.Put.Item)])
		case op.Delete != nil:
			t, err := s.table(op.Delete.TableName)
			if err != nil {
				return nil, err
			}
			ok = checkCondition(aws.StringValue(op.Delete.ConditionExpression), t.items[t.keyOf(op.Delete.Key)])
		case op.ConditionCheck != nil:
			t, err := s.table(op.ConditionCheck.TableName)
			if err != nil {
				return nil, err
			}
			ok = checkCondition(aws.StringValue(op.ConditionCheck.ConditionExpression), t.items[t.keyOf(op.ConditionCheck.Key)])
		}

		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = &dynamodb.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &dynamodb.TransactionCanceledException{
			Message_:            aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, op := range input.TransactItems {
		switch {
		case op.Put != nil:
			t, _ := s.table(op.Put.TableName)
			t.items[t.keyOf(op.Put.Item)] = cloneItem(op.Put.Item)
		case op.Delete != nil:
			t, _ := s.table(op.Delete.TableName)
			delete(t.items, t.keyOf(op.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (s *Store) DescribeTableWithContext(_ aws.Context, input *dynamodb.DescribeTableInput, _ ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.table(input.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String(dynamodb.TableStatusActive),
		},
	}, nil
}

func (s *Store) CreateTableWithContext(_ aws.Context, input *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := aws.StringValue(input.TableName)
	if _, exists := s.tables[name]; exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException,
			fmt.Sprintf("table %s already exists", name), nil)
	}

	spec := Table{Name: name}
	spec.PartitionKey, spec.SortKey = keySchema(input.KeySchema)
	for _, gsi := range input.GlobalSecondaryIndexes {
		idx := Index{Name: aws.StringValue(gsi.IndexName)}
		idx.PartitionKey, idx.SortKey = keySchema(gsi.KeySchema)
		spec.Indexes = append(spec.Indexes, idx)
	}

	s.tables[name] = &table{
		spec:  spec,
		items: make(map[string]map[string]*dynamodb.AttributeValue),
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func keySchema(elems []*dynamodb.KeySchemaElement) (partition, sortKey string) {
	for _, e := range elems {
		switch aws.StringValue(e.KeyType) {
		case dynamodb.KeyTypeHash:
			partition = aws.StringValue(e.AttributeName)
		case dynamodb.KeyTypeRange:
			sortKey = aws.StringValue(e.AttributeName)
		}
	}
	return partition, sortKey
}
