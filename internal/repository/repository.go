// Package repository holds one repository per table. Every write-capable
// method resolves the ambient writer at call time: buffered into the active
// Unit of Work when one is on the context, applied directly otherwise.
// Reads always hit the store, so a read inside an open Unit of Work does not
// observe its own uncommitted writes.
package repository

import (
	"context"

	"harmony/internal/dynamo"
)

type base struct {
	client dynamo.API
	direct *dynamo.DirectWriter
	table  string
}

func newBase(client dynamo.API, table string) base {
	return base{
		client: client,
		direct: dynamo.NewDirectWriter(client),
		table:  table,
	}
}

func (b base) writer(ctx context.Context) dynamo.Writer {
	if w := dynamo.WriterFromContext(ctx); w != nil {
		return w
	}
	return b.direct
}
