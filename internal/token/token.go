//go:generate go run go.uber.org/mock/mockgen -source=token.go -destination=../mocks/mock_token.go -package=mocks
package token

import "context"

// MintInput scopes a capability token to one participant in one room.
type MintInput struct {
	UserID       string
	RoomID       string
	Role         string
	DisplayName  string
	CanPublish   bool
	CanSubscribe bool
	RoomAdmin    bool
}

type Issuer interface {
	Mint(ctx context.Context, input MintInput) (string, error)
}
