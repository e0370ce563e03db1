//go:generate go run go.uber.org/mock/mockgen -source=userdir.go -destination=../mocks/mock_userdir.go -package=mocks
package userdir

import "context"

type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	// DisplayName reports ok=false when the user has no display name.
	DisplayName(ctx context.Context, userID string) (name string, ok bool, err error)
}
