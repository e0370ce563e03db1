package announce

import (
	"context"
	"errors"

	"github.com/foxseedlab/circles/internal/announce"
)

// Multi delivers each announcement to every notifier and joins the
// failures.
type Multi []announce.Notifier

func (m Multi) CircleLive(ctx context.Context, a announce.Announcement) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.CircleLive(ctx, a))
	}
	return errors.Join(errs...)
}

func (m Multi) CircleEnded(ctx context.Context, a announce.Announcement) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.CircleEnded(ctx, a))
	}
	return errors.Join(errs...)
}
