package circle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/webhook"
)

// EventLedger remembers which transport events have been applied.
type EventLedger interface {
	// Claim records eventID and reports false if it was already claimed.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets eventID so a redelivery is applied.
	Release(ctx context.Context, eventID string) error
}

type Outcome string

const (
	OutcomeReceived Outcome = "received"
	OutcomeIgnored  Outcome = "ignored"
)

type Result struct {
	Status Outcome `json:"status"`
	Event  string  `json:"event"`
}

// EventReconciler applies transport webhook events to membership state.
// Delivery is at least once and unordered; every handler is written so
// that replaying it, or running it after a later event, leaves counts
// intact.
type EventReconciler struct {
	*core
	ledger   EventLedger
	detector *FailureDetector
}

func NewEventReconciler(d Deps, opts Options, ledger EventLedger, detector *FailureDetector) *EventReconciler {
	return &EventReconciler{core: newCore(d, opts), ledger: ledger, detector: detector}
}

func (r *EventReconciler) Handle(ctx context.Context, ev *webhook.Event) (*Result, error) {
	res := &Result{Status: OutcomeIgnored, Event: string(ev.Kind)}
	if !r.handles(ev) {
		slog.Debug("webhook event ignored", "event", ev.Kind, "track_kind", ev.TrackKind)
		return res, nil
	}
	if ev.RoomName == "" || ev.ParticipantIdentity == "" {
		slog.Warn("webhook event without room or participant ignored", "event", ev.Kind, "event_id", ev.ID)
		return res, nil
	}

	if ev.ID != "" {
		claimed, err := r.ledger.Claim(ctx, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim event %s: %w", ev.ID, err)
		}
		if !claimed {
			slog.Info("duplicate webhook event ignored", "event", ev.Kind, "event_id", ev.ID, "circle_id", ev.RoomName)
			return res, nil
		}
	}

	if err := r.apply(ctx, ev); err != nil {
		if ev.ID != "" {
			if rerr := r.ledger.Release(ctx, ev.ID); rerr != nil {
				slog.Error("failed to release event claim", "event_id", ev.ID, "error", rerr)
			}
		}
		slog.Error("webhook event failed", "event", ev.Kind, "event_id", ev.ID, "circle_id", ev.RoomName, "user_id", ev.ParticipantIdentity, "error", err)
		return nil, err
	}
	res.Status = OutcomeReceived
	return res, nil
}

func (r *EventReconciler) handles(ev *webhook.Event) bool {
	switch ev.Kind {
	case webhook.EventParticipantJoined, webhook.EventParticipantLeft:
		return true
	case webhook.EventTrackPublished, webhook.EventTrackUnpublished:
		return ev.TrackKind == webhook.TrackAudio
	}
	return false
}

func (r *EventReconciler) apply(ctx context.Context, ev *webhook.Event) error {
	exists, err := r.users.Exists(ctx, ev.ParticipantIdentity)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", ev.ParticipantIdentity, err)
	}
	if !exists {
		return apperr.NotFound("participant %s is not a known user", ev.ParticipantIdentity)
	}

	switch ev.Kind {
	case webhook.EventParticipantJoined:
		return r.participantJoined(ctx, ev.RoomName, ev.ParticipantIdentity)
	case webhook.EventParticipantLeft:
		return r.participantLeft(ctx, ev.RoomName, ev.ParticipantIdentity)
	case webhook.EventTrackPublished:
		return r.trackPublished(ctx, ev.RoomName, ev.ParticipantIdentity)
	case webhook.EventTrackUnpublished:
		return r.trackUnpublished(ctx, ev.RoomName, ev.ParticipantIdentity)
	}
	return nil
}

func (r *EventReconciler) participantJoined(ctx context.Context, circleID, userID string) error {
	var adm *admission
	err := r.store.RunTransaction(ctx, func(tx store.Tx) error {
		adm = nil
		circle, err := getCircle(tx, circleID)
		if err != nil {
			return err
		}
		if circle == nil {
			return apperr.NotFound("circle %s not found", circleID)
		}
		if circle.Status == StatusEnded {
			return nil
		}
		existing, err := getMember(tx, circleID, userID)
		if err != nil {
			return err
		}
		role := RoleListener
		if userID == circle.HostUID {
			role = RoleHost
		}
		adm, err = admit(tx, circle, existing, userID, role, r.now())
		return err
	})
	if err != nil {
		return err
	}
	if adm == nil {
		slog.Debug("participant joined an ended circle", "circle_id", circleID, "user_id", userID)
		return nil
	}
	if adm.reconnected {
		r.detector.HostReconnected(circleID, userID)
	}
	slog.Info("participant joined", "circle_id", circleID, "user_id", userID, "counted", adm.counted)
	return nil
}

func (r *EventReconciler) participantLeft(ctx context.Context, circleID, userID string) error {
	circle, err := r.readCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if circle == nil {
		return apperr.NotFound("circle %s not found", circleID)
	}
	if userID == circle.HostUID {
		return r.detector.HostDisconnected(ctx, circleID, userID)
	}

	uncounted := false
	err = r.store.RunTransaction(ctx, func(tx store.Tx) error {
		member, err := getMember(tx, circleID, userID)
		if err != nil || member == nil {
			return err
		}
		uncounted, err = vacate(tx, circleID, member, r.now())
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("participant left", "circle_id", circleID, "user_id", userID, "uncounted", uncounted)
	return nil
}

func (r *EventReconciler) trackPublished(ctx context.Context, circleID, userID string) error {
	return r.store.RunTransaction(ctx, func(tx store.Tx) error {
		member, err := getMember(tx, circleID, userID)
		if err != nil || member == nil || member.LastSpokeAt != nil {
			return err
		}
		// A publish that arrives after the member left or dropped off
		// would otherwise open a speaking interval nothing closes.
		if member.Status != MemberActive {
			return nil
		}
		circle, err := getCircle(tx, circleID)
		if err != nil || circle == nil || circle.Status == StatusEnded {
			return err
		}
		if err := tx.Update(memberPath(circleID, userID), store.Fields{"lastSpokeAt": store.Millis(r.now())}); err != nil {
			return fmt.Errorf("failed to mark speaking: %w", err)
		}
		return nil
	})
}

func (r *EventReconciler) trackUnpublished(ctx context.Context, circleID, userID string) error {
	return r.store.RunTransaction(ctx, func(tx store.Tx) error {
		member, err := getMember(tx, circleID, userID)
		if err != nil || member == nil {
			return err
		}
		return flushSpeaking(tx, circleID, member, r.now())
	})
}
