package authorization

import (
	"context"

	"github.com/smallbiznis/storefront/internal/identity"
)

// Service answers capability questions for a caller. Ownership of a
// specific order or payment is checked by the owning service.
type Service interface {
	Authorize(ctx context.Context, caller identity.Caller, object string, action string) error
}
