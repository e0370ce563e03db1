package identity

import "context"

// Verifier resolves a bearer credential to the caller's user id.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (string, error)
}
