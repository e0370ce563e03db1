package circle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/google/uuid"
)

type CreateParams struct {
	Title       string     `json:"title" validate:"required,max=120"`
	Description string     `json:"description" validate:"max=2000"`
	Category    string     `json:"category" validate:"max=64"`
	Privacy     Privacy    `json:"privacy" validate:"omitempty,oneof=public private secret"`
	CoverURL    string     `json:"coverUrl" validate:"max=2048"`
	StartAt     *time.Time `json:"startAt"`
	MaxSpeakers int        `json:"maxSpeakers" validate:"omitempty,min=1,max=20"`
	IsReplay    bool       `json:"isReplay"`
}

// UpdatePatch holds the fields a host may change. Nil leaves a field
// untouched.
type UpdatePatch struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=120"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	Category    *string    `json:"category" validate:"omitempty,min=1,max=64"`
	Privacy     *Privacy   `json:"privacy" validate:"omitempty,oneof=public private secret"`
	CoverURL    *string    `json:"coverUrl" validate:"omitempty,max=2048"`
	StartAt     *time.Time `json:"startAt"`
	IsReplay    *bool      `json:"isReplay"`
}

func (p UpdatePatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil && p.Privacy == nil &&
		p.CoverURL == nil && p.StartAt == nil && p.IsReplay == nil
}

type CreateResult struct {
	CircleID string  `json:"circleId"`
	Token    string  `json:"token"`
	URL      string  `json:"url,omitempty"`
	Circle   *Circle `json:"circle"`
}

type LifecycleManager struct {
	*core
}

func NewLifecycleManager(d Deps, opts Options) *LifecycleManager {
	return &LifecycleManager{core: newCore(d, opts)}
}

// Create opens a circle hosted by requester. The quota counter for the
// requester's local day is read and bumped in the same transaction that
// inserts the circle.
func (l *LifecycleManager) Create(ctx context.Context, requester string, params CreateParams) (*CreateResult, error) {
	if requester == "" {
		return nil, apperr.Unauthenticated("caller identity is required")
	}
	params.Title = strings.TrimSpace(params.Title)
	if err := l.validate.Struct(params); err != nil {
		return nil, apperr.MalformedInput("invalid circle parameters: %v", err)
	}

	now := l.now()
	circle := &Circle{
		ID:               uuid.NewString(),
		Title:            params.Title,
		Description:      params.Description,
		Category:         params.Category,
		Privacy:          params.Privacy,
		HostUID:          requester,
		CoverURL:         params.CoverURL,
		StartAt:          now,
		MaxSpeakers:      params.MaxSpeakers,
		CreatedAt:        now,
		ParticipantCount: 1,
		IsReplay:         params.IsReplay,
	}
	if circle.Category == "" {
		circle.Category = DefaultCategory
	}
	if circle.Privacy == "" {
		circle.Privacy = PrivacyPublic
	}
	if circle.MaxSpeakers == 0 {
		circle.MaxSpeakers = DefaultMaxSpeakers
	}
	if params.StartAt != nil {
		circle.StartAt = params.StartAt.UTC().Truncate(time.Millisecond)
	}
	circle.Status = initialStatus(circle.StartAt, now)
	host := newMember(requester, RoleHost, now)

	quota := quotaPath(requester, now.In(l.opts.QuotaLocation))
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(quota)
		if err != nil {
			return fmt.Errorf("failed to read creation quota: %w", err)
		}
		if doc == nil {
			if err := tx.Set(quota, store.Fields{"uid": requester, "count": int64(1)}); err != nil {
				return fmt.Errorf("failed to start creation quota: %w", err)
			}
		} else {
			if used := doc.Data.Int64("count"); used >= int64(l.opts.DailyQuota) {
				return apperr.RateLimited("daily circle limit of %d reached", l.opts.DailyQuota)
			}
			if err := tx.Increment(quota, "count", 1); err != nil {
				return fmt.Errorf("failed to bump creation quota: %w", err)
			}
		}
		if err := tx.Set(circlePath(circle.ID), circleFields(circle)); err != nil {
			return fmt.Errorf("failed to insert circle: %w", err)
		}
		if err := tx.Set(memberPath(circle.ID, requester), memberFields(host)); err != nil {
			return fmt.Errorf("failed to insert host member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("circle created", "circle_id", circle.ID, "user_id", requester, "status", circle.Status)

	// The circle is committed either way, so its timer and announcement
	// do not wait on the token.
	if circle.Status == StatusLive {
		l.afterLive(ctx, circle)
	}
	tok, err := l.mint(ctx, circle.ID, requester, RoleHost)
	if err != nil {
		return nil, err
	}
	return &CreateResult{CircleID: circle.ID, Token: tok, URL: l.opts.TransportURL, Circle: circle}, nil
}

// Update applies a host's partial edit. startAt may only move while the
// circle is scheduled, and recomputes its status.
func (l *LifecycleManager) Update(ctx context.Context, requester, circleID string, patch UpdatePatch) (*Circle, error) {
	if err := l.validate.Struct(patch); err != nil {
		return nil, apperr.MalformedInput("invalid circle patch: %v", err)
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, apperr.MalformedInput("title must not be blank")
		}
		patch.Title = &title
	}

	var (
		updated    *Circle
		becameLive bool
	)
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := hostCircle(tx, requester, circleID)
		if err != nil {
			return err
		}
		if circle.Status == StatusEnded {
			return apperr.InvalidState("circle %s has ended", circleID)
		}
		if patch.StartAt != nil && circle.Status == StatusLive {
			return apperr.InvalidState("startAt of live circle %s cannot change", circleID)
		}
		becameLive = false
		if patch.empty() {
			updated = circle
			return nil
		}

		fields := store.Fields{}
		if patch.Title != nil {
			circle.Title = *patch.Title
			fields["title"] = circle.Title
		}
		if patch.Description != nil {
			circle.Description = *patch.Description
			fields["description"] = circle.Description
		}
		if patch.Category != nil {
			circle.Category = *patch.Category
			fields["category"] = circle.Category
		}
		if patch.Privacy != nil {
			circle.Privacy = *patch.Privacy
			fields["privacy"] = string(circle.Privacy)
		}
		if patch.CoverURL != nil {
			circle.CoverURL = *patch.CoverURL
			fields["coverUrl"] = circle.CoverURL
		}
		if patch.IsReplay != nil {
			circle.IsReplay = *patch.IsReplay
			fields["isReplay"] = circle.IsReplay
		}
		if patch.StartAt != nil {
			circle.StartAt = patch.StartAt.UTC().Truncate(time.Millisecond)
			circle.Status = initialStatus(circle.StartAt, l.now())
			becameLive = circle.Status == StatusLive
			fields["startAt"] = store.Millis(circle.StartAt)
			fields["status"] = string(circle.Status)
		}
		if err := tx.Update(circlePath(circleID), fields); err != nil {
			return fmt.Errorf("failed to update circle %s: %w", circleID, err)
		}
		updated = circle
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("circle updated", "circle_id", circleID, "user_id", requester)
	if becameLive {
		l.afterLive(ctx, updated)
	}
	return updated, nil
}

// SetStatus moves the circle along the transition table.
func (l *LifecycleManager) SetStatus(ctx context.Context, requester, circleID string, to Status) (*Circle, error) {
	if !to.Valid() {
		return nil, apperr.MalformedInput("unknown status %q", to)
	}
	var updated *Circle
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := hostCircle(tx, requester, circleID)
		if err != nil {
			return err
		}
		if !circle.Status.CanTransitionTo(to) {
			return apperr.InvalidTransition("cannot transition circle from %s to %s", circle.Status, to)
		}
		if to == StatusEnded {
			if err := endInTx(tx, circle, EndReasonHostEnded, l.now()); err != nil {
				return err
			}
		} else {
			if err := tx.Update(circlePath(circleID), store.Fields{"status": string(to)}); err != nil {
				return fmt.Errorf("failed to set status of circle %s: %w", circleID, err)
			}
			circle.Status = to
		}
		updated = circle
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("circle status changed", "circle_id", circleID, "status", to)
	switch to {
	case StatusLive:
		l.afterLive(ctx, updated)
	case StatusEnded:
		l.afterEnded(ctx, circleID)
	}
	return updated, nil
}

// End stops a scheduled or live circle on the host's behalf.
func (l *LifecycleManager) End(ctx context.Context, requester, circleID string) (*Circle, error) {
	var ended *Circle
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := hostCircle(tx, requester, circleID)
		if err != nil {
			return err
		}
		if !circle.Status.Joinable() {
			return apperr.InvalidState("circle %s is already %s", circleID, circle.Status)
		}
		if err := endInTx(tx, circle, EndReasonHostEnded, l.now()); err != nil {
			return err
		}
		ended = circle
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.afterEnded(ctx, circleID)
	return ended, nil
}

// Delete removes a circle that never went live, with its members and hand
// raises.
func (l *LifecycleManager) Delete(ctx context.Context, requester, circleID string) error {
	err := l.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := hostCircle(tx, requester, circleID)
		if err != nil {
			return err
		}
		if circle.Status != StatusScheduled {
			return apperr.InvalidState("only scheduled circles can be deleted; circle %s is %s", circleID, circle.Status)
		}
		if err := tx.Delete(circlePath(circleID)); err != nil {
			return fmt.Errorf("failed to delete circle %s: %w", circleID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.scheduler.CancelCircle(circleID)

	var paths []string
	for _, collection := range []string{membersCollection(circleID), handRaisesCollection(circleID)} {
		docs, err := l.store.Query(ctx, store.Query{Collection: collection})
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", collection, err)
		}
		for _, doc := range docs {
			paths = append(paths, doc.Path)
		}
	}
	if err := l.store.BatchDelete(ctx, paths); err != nil {
		return fmt.Errorf("failed to delete sub-records of circle %s: %w", circleID, err)
	}
	slog.Info("circle deleted", "circle_id", circleID, "user_id", requester, "sub_records", len(paths))
	return nil
}

// NextStatuses lists where the host may move the circle next.
func (l *LifecycleManager) NextStatuses(ctx context.Context, requester, circleID string) ([]Status, error) {
	circle, err := l.readCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle == nil {
		return nil, apperr.NotFound("circle %s not found", circleID)
	}
	if circle.HostUID != requester {
		return nil, apperr.Forbidden("only the host can manage circle %s", circleID)
	}
	return circle.Status.NextStatuses(), nil
}

// hostCircle loads a circle the requester must host.
func hostCircle(tx store.Tx, requester, circleID string) (*Circle, error) {
	circle, err := getCircle(tx, circleID)
	if err != nil {
		return nil, err
	}
	if circle == nil {
		return nil, apperr.NotFound("circle %s not found", circleID)
	}
	if requester == "" {
		return nil, apperr.Unauthenticated("caller identity is required")
	}
	if circle.HostUID != requester {
		return nil, apperr.Forbidden("only the host can manage circle %s", circleID)
	}
	return circle, nil
}
