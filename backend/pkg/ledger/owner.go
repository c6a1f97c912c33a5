package ledger

import (
	"context"

	"github.com/rfidpay/cardcore/backend/pkg/card"
)

// OwnerResolver confirms that an owner reference points at a real person or
// enterprise in the identity service.
type OwnerResolver interface {
	HasOwner(ctx context.Context, o card.Owner) (bool, error)
}

// OwnerResolverFunc adapts a function to OwnerResolver.
type OwnerResolverFunc func(ctx context.Context, o card.Owner) (bool, error)

func (f OwnerResolverFunc) HasOwner(ctx context.Context, o card.Owner) (bool, error) {
	return f(ctx, o)
}

// assignedOwner trusts any assigned owner reference.
var assignedOwner = OwnerResolverFunc(func(_ context.Context, o card.Owner) (bool, error) {
	return o.Assigned(), nil
})
