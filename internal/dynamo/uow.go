package dynamo

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// maxTransactItems is DynamoDB's TransactWriteItems ceiling.
const maxTransactItems = 100

type writerContextKey struct{}

// WriterFromContext returns the transactional writer of the Unit of Work
// active on this call chain, or nil when writes should go direct. The
// binding lives in the context, so concurrent request goroutines never see
// each other's pending buffer.
func WriterFromContext(ctx context.Context) Writer {
	w, _ := ctx.Value(writerContextKey{}).(Writer)
	return w
}

// UnitOfWork buffers write operations and submits them as one atomic
// TransactWriteItems call on Commit. The intended shape at call sites:
//
//	txCtx, uow, err := dynamo.Begin(ctx, client)
//	if err != nil { ... }
//	defer uow.Rollback()
//	// repository writes through txCtx accumulate into the buffer
//	return uow.Commit(ctx)
//
// Rollback after a successful Commit is a no-op, so the deferred call
// guarantees an abandoned scope never applies anything.
type UnitOfWork struct {
	client API

	mu   sync.Mutex
	ops  []*dynamodb.TransactWriteItem
	done bool
}

// Begin opens a Unit of Work and returns a derived context carrying its
// transactional writer. Nesting is not supported: beginning a second Unit of
// Work on a call chain that already has one fails with ErrNestedTransaction.
func Begin(ctx context.Context, client API) (context.Context, *UnitOfWork, error) {
	if WriterFromContext(ctx) != nil {
		return nil, nil, ErrNestedTransaction
	}

	uow := &UnitOfWork{client: client}
	txCtx := context.WithValue(ctx, writerContextKey{}, &transactionWriter{uow: uow})
	return txCtx, uow, nil
}

// Len returns the number of buffered operations.
func (u *UnitOfWork) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.ops)
}

// Commit submits the buffered operations as one atomic transaction. An empty
// buffer commits trivially. A buffer over the 100-operation ceiling fails
// with ErrTransactionTooLarge before any I/O. A store rejection surfaces as
// ErrTransactionFailed wrapping the cause; when the cause is a failed
// condition the error also matches ErrConditionFailed.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done || len(u.ops) == 0 {
		u.done = true
		return nil
	}
	if len(u.ops) > maxTransactItems {
		return fmt.Errorf("%w: %d operations buffered", ErrTransactionTooLarge, len(u.ops))
	}

	_, err := u.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: u.ops,
	})
	if err != nil {
		if hasCancelledCondition(err) {
			return fmt.Errorf("%w: %w: %v", ErrTransactionFailed, ErrConditionFailed, err)
		}
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	u.ops = nil
	u.done = true
	return nil
}

// Rollback discards the buffer. It is idempotent and safe to defer
// unconditionally; after Commit it does nothing.
func (u *UnitOfWork) Rollback() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ops = nil
	u.done = true
}

func (u *UnitOfWork) add(op *dynamodb.TransactWriteItem) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ops = append(u.ops, op)
}

// transactionWriter implements Writer by appending operation descriptors to
// its Unit of Work. No I/O happens until Commit.
type transactionWriter struct {
	uow *UnitOfWork
}

func (w *transactionWriter) PutItem(ctx context.Context, table string, item Item, condition string) error {
	put := &dynamodb.Put{
		TableName: aws.String(table),
		Item:      item,
	}
	if condition != "" {
		put.ConditionExpression = aws.String(condition)
	}
	w.uow.add(&dynamodb.TransactWriteItem{Put: put})
	return nil
}

func (w *transactionWriter) PutBatch(ctx context.Context, table string, items []Item) error {
	for _, item := range items {
		if err := w.PutItem(ctx, table, item, ""); err != nil {
			return err
		}
	}
	return nil
}

func (w *transactionWriter) DeleteItem(ctx context.Context, table string, key Key, condition string) error {
	del := &dynamodb.Delete{
		TableName: aws.String(table),
		Key:       key,
	}
	if condition != "" {
		del.ConditionExpression = aws.String(condition)
	}
	w.uow.add(&dynamodb.TransactWriteItem{Delete: del})
	return nil
}

func (w *transactionWriter) DeleteBatch(ctx context.Context, table string, keys []Key) error {
	for _, key := range keys {
		if err := w.DeleteItem(ctx, table, key, ""); err != nil {
			return err
		}
	}
	return nil
}

func (w *transactionWriter) ConditionCheck(ctx context.Context, table string, key Key, condition string) error {
	w.uow.add(&dynamodb.TransactWriteItem{
		ConditionCheck: &dynamodb.ConditionCheck{
			TableName:           aws.String(table),
			Key:                 key,
			ConditionExpression: aws.String(condition),
		},
	})
	return nil
}
