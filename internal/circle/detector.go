package circle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/schedule"
	"github.com/foxseedlab/circles/internal/store"
)

// FailureDetector ends a circle whose host stays disconnected past the
// grace period. Each disconnection bumps the host member's epoch and arms
// a check for that epoch only; a reconnection bumps it again, so a stale
// check finds a different epoch and does nothing.
type FailureDetector struct {
	*core
}

func NewFailureDetector(d Deps, opts Options) *FailureDetector {
	return &FailureDetector{core: newCore(d, opts)}
}

// hostKey prefixes the uid so no host can share a key with the
// circle's max-duration timer.
func hostKey(circleID, hostUID string) schedule.Key {
	return schedule.Key{CircleID: circleID, Subject: "host:" + hostUID}
}

// HostDisconnected records that the host dropped off the transport and
// arms the grace check. Ended circles and hosts already marked
// disconnected are left alone.
func (d *FailureDetector) HostDisconnected(ctx context.Context, circleID, hostUID string) error {
	var (
		armed bool
		epoch int64
	)
	err := d.store.RunTransaction(ctx, func(tx store.Tx) error {
		armed = false
		circle, err := getCircle(tx, circleID)
		if err != nil {
			return err
		}
		if circle == nil {
			return apperr.NotFound("circle %s not found", circleID)
		}
		if circle.Status == StatusEnded || circle.HostUID != hostUID {
			return nil
		}
		member, err := getMember(tx, circleID, hostUID)
		if err != nil {
			return err
		}
		if member == nil || member.Status == MemberDisconnected {
			return nil
		}

		now := d.now()
		if err := flushSpeaking(tx, circleID, member, now); err != nil {
			return err
		}
		epoch = member.DisconnectEpoch + 1
		if err := tx.Update(memberPath(circleID, hostUID), store.Fields{
			"status":          string(MemberDisconnected),
			"disconnectedAt":  store.Millis(now),
			"disconnectEpoch": epoch,
		}); err != nil {
			return fmt.Errorf("failed to mark host disconnected: %w", err)
		}
		if err := tx.Update(circlePath(circleID), store.Fields{"hostDisconnectedAt": store.Millis(now)}); err != nil {
			return fmt.Errorf("failed to stamp host disconnection: %w", err)
		}
		armed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !armed {
		slog.Debug("host disconnect ignored", "circle_id", circleID, "user_id", hostUID)
		return nil
	}
	d.arm(circleID, hostUID, epoch, d.opts.HostGracePeriod)
	slog.Info("host disconnected; grace check armed", "circle_id", circleID, "user_id", hostUID, "epoch", epoch, "grace", d.opts.HostGracePeriod)
	return nil
}

// HostReconnected drops the pending grace check. The store side of a
// reconnection is written by the join that observed it.
func (d *FailureDetector) HostReconnected(circleID, hostUID string) bool {
	cancelled := d.scheduler.Cancel(hostKey(circleID, hostUID))
	slog.Info("host reconnected", "circle_id", circleID, "user_id", hostUID, "cancelled_check", cancelled)
	return cancelled
}

func (d *FailureDetector) arm(circleID, hostUID string, epoch int64, wait time.Duration) {
	d.scheduler.Schedule(hostKey(circleID, hostUID), epoch, wait, func(ctx context.Context, epoch int64) {
		d.check(ctx, circleID, hostUID, epoch)
	})
}

func (d *FailureDetector) check(ctx context.Context, circleID, hostUID string, epoch int64) {
	ended := false
	err := d.store.RunTransaction(ctx, func(tx store.Tx) error {
		ended = false
		circle, err := getCircle(tx, circleID)
		if err != nil || circle == nil || circle.Status == StatusEnded {
			return err
		}
		member, err := getMember(tx, circleID, hostUID)
		if err != nil || member == nil {
			return err
		}
		if member.Status != MemberDisconnected || member.DisconnectEpoch != epoch {
			return nil
		}
		ended = true
		return endInTx(tx, circle, EndReasonHostDisconnected, d.now())
	})
	if err != nil {
		slog.Error("host disconnect check failed", "circle_id", circleID, "user_id", hostUID, "epoch", epoch, "error", err)
		return
	}
	if !ended {
		slog.Debug("host disconnect check found host back", "circle_id", circleID, "user_id", hostUID, "epoch", epoch)
		return
	}
	slog.Info("host did not return within grace period", "circle_id", circleID, "user_id", hostUID, "epoch", epoch)
	d.afterEnded(ctx, circleID)
}

// Recover re-arms deferred work after a restart: grace checks for hosts
// still disconnected, with whatever grace remains, and max-duration
// timers for live circles.
func (d *FailureDetector) Recover(ctx context.Context) error {
	checks, timers := 0, 0
	for _, status := range []Status{StatusScheduled, StatusLive} {
		docs, err := d.store.Query(ctx, store.Query{
			Collection: circlesCollection,
			Filters:    []store.Filter{{Field: "status", Value: string(status)}},
		})
		if err != nil {
			return fmt.Errorf("failed to list %s circles: %w", status, err)
		}
		for i := range docs {
			circle := decodeCircle(&docs[i])
			if circle.Status == StatusLive && d.opts.MaxDuration > 0 {
				d.armTimeout(circle)
				timers++
			}
			if circle.HostDisconnectedAt == nil {
				continue
			}
			doc, err := d.store.Get(ctx, memberPath(circle.ID, circle.HostUID))
			if err != nil {
				return fmt.Errorf("failed to read host of circle %s: %w", circle.ID, err)
			}
			if doc == nil {
				continue
			}
			host := decodeMember(doc)
			if host.Status != MemberDisconnected {
				continue
			}
			since := *circle.HostDisconnectedAt
			if host.DisconnectedAt != nil {
				since = *host.DisconnectedAt
			}
			remaining := max(d.opts.HostGracePeriod-d.now().Sub(since), 0)
			d.arm(circle.ID, circle.HostUID, host.DisconnectEpoch, remaining)
			checks++
		}
	}
	slog.Info("deferred checks recovered", "host_checks", checks, "timeout_timers", timers)
	return nil
}
