package repository

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"

	"harmony/internal/dynamo"
)

// EmailSetRepository guards global email uniqueness. A claim is a bare
// record keyed by the email; the conditional put is the only serialization
// point between concurrent sign-ups for the same address. Claims are never
// released, not even when the owning user is tombstoned.
type EmailSetRepository struct {
	base
}

func NewEmailSetRepository(client dynamo.API, table string) *EmailSetRepository {
	return &EmailSetRepository{base: newBase(client, table)}
}

// Claim reserves an email. Fails with dynamo.ErrConditionFailed (directly,
// or at commit when buffered) if the email is already taken.
func (r *EmailSetRepository) Claim(ctx context.Context, email string) error {
	item := dynamo.Item{
		"email": {S: aws.String(email)},
	}
	return r.writer(ctx).PutItem(ctx, r.table, item, "attribute_not_exists(email)")
}
