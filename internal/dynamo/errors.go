package dynamo

import (
	"errors"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

var (
	// ErrConditionFailed reports a violated write precondition, e.g. a
	// conditional put against a key that already exists.
	ErrConditionFailed = errors.New("dynamo: condition failed")

	// ErrTransactionTooLarge reports a Unit of Work whose buffer exceeds the
	// 100-operation TransactWriteItems ceiling. The ceiling is hard: commit
	// refuses the buffer outright instead of splitting it.
	ErrTransactionTooLarge = errors.New("dynamo: transaction exceeds the 100 operation limit")

	// ErrTransactionFailed reports a transactional write the store rejected.
	// The store rolled the whole set back; nothing was applied.
	ErrTransactionFailed = errors.New("dynamo: transaction failed")

	// ErrBatchWriteExhausted reports a batch write whose unprocessed items
	// survived every retry attempt.
	ErrBatchWriteExhausted = errors.New("dynamo: batch write retries exhausted")

	// ErrNestedTransaction reports an attempt to begin a Unit of Work while
	// another one is already active on the call chain.
	ErrNestedTransaction = errors.New("dynamo: a unit of work is already active")

	// ErrNoTransaction reports a condition-check issued outside a Unit of
	// Work. Condition checks only exist as transaction members.
	ErrNoTransaction = errors.New("dynamo: condition check requires an active unit of work")
)

// isConditionalCheckFailed reports whether err is DynamoDB's rejection of a
// single conditional write.
func isConditionalCheckFailed(err error) bool {
	var ae awserr.Error
	if errors.As(err, &ae) {
		return ae.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}

// hasCancelledCondition reports whether a cancelled transaction lists a
// failed condition among its cancellation reasons.
func hasCancelledCondition(err error) bool {
	var tce *dynamodb.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, reason := range tce.CancellationReasons {
		if reason != nil && reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
