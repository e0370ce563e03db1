// Package circle coordinates the lifecycle and membership of audio rooms.
// Every check-then-act command runs inside a single store transaction;
// side effects (token minting, announcements, timers) happen only after
// the transaction commits.
package circle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/circles/internal/announce"
	"github.com/foxseedlab/circles/internal/clock"
	"github.com/foxseedlab/circles/internal/config"
	"github.com/foxseedlab/circles/internal/schedule"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/token"
	"github.com/foxseedlab/circles/internal/userdir"
	"github.com/go-playground/validator/v10"
)

const timeoutSubject = "timeout"

// Deps are the collaborators shared by every component in this package.
type Deps struct {
	Store     store.Store
	Tokens    token.Issuer
	Users     userdir.Directory
	Notifier  announce.Notifier
	Scheduler *schedule.Scheduler
	Clock     clock.Clock
}

type Options struct {
	DailyQuota        int
	QuotaLocation     *time.Location
	HostGracePeriod   time.Duration
	MaxDuration       time.Duration
	DefaultPageSize   int
	MaxPageSize       int
	EnforceSpeakerCap bool
	// TransportURL is handed to clients along with their tokens.
	TransportURL      string
}

func DefaultOptions() Options {
	return Options{
		DailyQuota:      5,
		QuotaLocation:   time.UTC,
		HostGracePeriod: 5 * time.Minute,
		DefaultPageSize: 8,
		MaxPageSize:     50,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DailyQuota:        cfg.DailyCircleQuota,
		QuotaLocation:     cfg.QuotaLocation(),
		HostGracePeriod:   cfg.HostGracePeriod,
		MaxDuration:       cfg.MaxCircleDuration,
		DefaultPageSize:   cfg.DefaultPageSize,
		MaxPageSize:       cfg.MaxPageSize,
		EnforceSpeakerCap: cfg.EnforceSpeakerCap,
		TransportURL:      cfg.LiveKitURL,
	}
}

type core struct {
	store     store.Store
	tokens    token.Issuer
	users     userdir.Directory
	notifier  announce.Notifier
	scheduler *schedule.Scheduler
	clock     clock.Clock
	opts      Options
	validate  *validator.Validate
}

func newCore(d Deps, opts Options) *core {
	if d.Notifier == nil {
		d.Notifier = announce.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if opts.QuotaLocation == nil {
		opts.QuotaLocation = time.UTC
	}
	return &core{
		store:     d.Store,
		tokens:    d.Tokens,
		users:     d.Users,
		notifier:  d.Notifier,
		scheduler: d.Scheduler,
		clock:     d.Clock,
		opts:      opts,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// now is truncated to the stored precision so returned records match what
// a later read decodes.
func (c *core) now() time.Time {
	return c.clock.Now().UTC().Truncate(time.Millisecond)
}

func (c *core) mint(ctx context.Context, circleID, userID string, role Role) (string, error) {
	name, _, err := c.users.DisplayName(ctx, userID)
	if err != nil {
		slog.Warn("display name lookup failed; minting without name", "circle_id", circleID, "user_id", userID, "error", err)
		name = ""
	}
	tok, err := c.tokens.Mint(ctx, token.MintInput{
		UserID:       userID,
		RoomID:       circleID,
		Role:         string(role),
		DisplayName:  name,
		CanPublish:   role.CanPublish(),
		CanSubscribe: true,
		RoomAdmin:    role == RoleHost,
	})
	if err != nil {
		return "", fmt.Errorf("failed to mint token for user %s in circle %s: %w", userID, circleID, err)
	}
	return tok, nil
}

// endInTx marks the circle ended. The caller has checked the status.
func endInTx(tx store.Tx, circle *Circle, reason EndReason, now time.Time) error {
	if err := tx.Update(circlePath(circle.ID), store.Fields{
		"status":    string(StatusEnded),
		"endedAt":   store.Millis(now),
		"endReason": string(reason),
	}); err != nil {
		return fmt.Errorf("failed to end circle %s: %w", circle.ID, err)
	}
	circle.Status = StatusEnded
	circle.EndedAt = &now
	circle.EndReason = reason
	return nil
}

// flushSpeaking closes an open speaking interval and credits it to the
// member and the circle.
func flushSpeaking(tx store.Tx, circleID string, m *Member, now time.Time) error {
	if m.LastSpokeAt == nil {
		return nil
	}
	elapsed := max(now.Sub(*m.LastSpokeAt).Milliseconds(), 0)
	path := memberPath(circleID, m.UserID)
	if err := tx.Update(path, store.Fields{"lastSpokeAt": nil}); err != nil {
		return fmt.Errorf("failed to clear speaking mark: %w", err)
	}
	if err := tx.Increment(path, "totalSpeakTime", elapsed); err != nil {
		return fmt.Errorf("failed to credit member speaking time: %w", err)
	}
	if err := tx.Increment(circlePath(circleID), "totalSpeakTime", elapsed); err != nil {
		return fmt.Errorf("failed to credit circle speaking time: %w", err)
	}
	m.LastSpokeAt = nil
	m.TotalSpeakTime += elapsed
	return nil
}

func (c *core) readCircle(ctx context.Context, circleID string) (*Circle, error) {
	doc, err := c.store.Get(ctx, circlePath(circleID))
	if err != nil {
		return nil, fmt.Errorf("failed to read circle %s: %w", circleID, err)
	}
	if doc == nil {
		return nil, nil
	}
	return decodeCircle(doc), nil
}

func (c *core) afterLive(ctx context.Context, circle *Circle) {
	c.armTimeout(circle)
	if err := c.notifier.CircleLive(ctx, c.announcement(ctx, circle)); err != nil {
		slog.Error("failed to announce live circle", "circle_id", circle.ID, "error", err)
	}
}

func (c *core) afterEnded(ctx context.Context, circleID string) {
	cancelled := c.scheduler.CancelCircle(circleID)
	slog.Info("circle ended", "circle_id", circleID, "cancelled_tasks", cancelled)

	// Re-read so the announcement carries the committed counters.
	circle, err := c.readCircle(ctx, circleID)
	if err != nil || circle == nil {
		slog.Error("failed to load ended circle for announcement", "circle_id", circleID, "error", err)
		return
	}
	if err := c.notifier.CircleEnded(ctx, c.announcement(ctx, circle)); err != nil {
		slog.Error("failed to announce ended circle", "circle_id", circleID, "error", err)
	}
}

func (c *core) announcement(ctx context.Context, circle *Circle) announce.Announcement {
	name, _, err := c.users.DisplayName(ctx, circle.HostUID)
	if err != nil {
		slog.Warn("host display name lookup failed", "circle_id", circle.ID, "user_id", circle.HostUID, "error", err)
	}
	at := c.now()
	if circle.EndedAt != nil {
		at = *circle.EndedAt
	}
	return announce.Announcement{
		CircleID:         circle.ID,
		Title:            circle.Title,
		Category:         circle.Category,
		HostUID:          circle.HostUID,
		HostName:         name,
		Status:           string(circle.Status),
		EndReason:        string(circle.EndReason),
		ParticipantCount: circle.ParticipantCount,
		TotalSpeakTimeMs: circle.TotalSpeakTime,
		HandRaiseCount:   circle.HandRaiseCount,
		RoleChangeCount:  circle.RoleChangeCount,
		At:               at,
	}
}

// armTimeout schedules the max-duration stop for a live circle.
func (c *core) armTimeout(circle *Circle) {
	if c.opts.MaxDuration <= 0 || circle.Status != StatusLive {
		return
	}
	wait := circle.StartAt.Add(c.opts.MaxDuration).Sub(c.now())
	circleID := circle.ID
	c.scheduler.Schedule(schedule.Key{CircleID: circleID, Subject: timeoutSubject}, 0, wait, func(ctx context.Context, _ int64) {
		c.expire(ctx, circleID)
	})
	slog.Debug("max duration timer armed", "circle_id", circleID, "wait", wait)
}

func (c *core) expire(ctx context.Context, circleID string) {
	ended := false
	err := c.store.RunTransaction(ctx, func(tx store.Tx) error {
		ended = false
		circle, err := getCircle(tx, circleID)
		if err != nil || circle == nil || circle.Status != StatusLive {
			return err
		}
		ended = true
		return endInTx(tx, circle, EndReasonTimeout, c.now())
	})
	if err != nil {
		slog.Error("failed to end circle after max duration", "circle_id", circleID, "error", err)
		return
	}
	if ended {
		slog.Info("circle reached max duration", "circle_id", circleID)
		c.afterEnded(ctx, circleID)
	}
}
