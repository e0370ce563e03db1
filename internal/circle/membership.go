package circle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/store"
)

// JoinResult and RoleChangeResult carry the transport URL next to the
// token so a client knows where to connect.
type JoinResult struct {
	Token  string  `json:"token"`
	URL    string  `json:"url,omitempty"`
	Member *Member `json:"member"`
}

type RoleChangeResult struct {
	Token  string  `json:"token"`
	URL    string  `json:"url,omitempty"`
	Member *Member `json:"member"`
}

type MembershipCoordinator struct {
	*core
	detector *FailureDetector
}

func NewMembershipCoordinator(d Deps, opts Options, detector *FailureDetector) *MembershipCoordinator {
	return &MembershipCoordinator{core: newCore(d, opts), detector: detector}
}

// Join admits userID and returns a token for the member's role. A
// returning member keeps the role they had; a host with a disconnected
// record is reconnecting.
func (m *MembershipCoordinator) Join(ctx context.Context, userID, circleID string, role Role) (*JoinResult, error) {
	if userID == "" {
		return nil, apperr.Unauthenticated("caller identity is required")
	}
	if role == "" {
		role = RoleListener
	}
	if !role.Valid() {
		return nil, apperr.MalformedInput("unknown role %q", role)
	}

	var adm *admission
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := getCircle(tx, circleID)
		if err != nil {
			return err
		}
		if circle == nil {
			return apperr.NotFound("circle %s not found", circleID)
		}
		if !circle.Status.Joinable() {
			return apperr.InvalidState("circle %s is %s", circleID, circle.Status)
		}
		existing, err := getMember(tx, circleID, userID)
		if err != nil {
			return err
		}
		// The requested role only matters for a first join; returning
		// members keep theirs.
		requested := role
		if userID == circle.HostUID {
			requested = RoleHost
		} else if existing == nil && role != RoleListener {
			return apperr.Forbidden("only the host can grant the %s role", role)
		}
		adm, err = admit(tx, circle, existing, userID, requested, m.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if adm.reconnected {
		m.detector.HostReconnected(circleID, userID)
	}
	if adm.counted {
		slog.Info("member joined", "circle_id", circleID, "user_id", userID, "role", adm.member.Role, "rejoin_count", adm.member.RejoinCount)
	}

	tok, err := m.mint(ctx, circleID, userID, adm.member.Role)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Token: tok, URL: m.opts.TransportURL, Member: adm.member}, nil
}

// ChangeRole promotes a member to speaker or demotes them to listener.
// The host's own role never changes.
func (m *MembershipCoordinator) ChangeRole(ctx context.Context, requester, circleID, targetUID string, role Role) (*RoleChangeResult, error) {
	if role != RoleSpeaker && role != RoleListener {
		return nil, apperr.MalformedInput("role must be %s or %s", RoleSpeaker, RoleListener)
	}
	if role == RoleSpeaker && m.opts.EnforceSpeakerCap {
		if err := m.checkSpeakerCap(ctx, circleID, targetUID); err != nil {
			return nil, err
		}
	}

	var target *Member
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := hostCircle(tx, requester, circleID)
		if err != nil {
			return err
		}
		if circle.Status == StatusEnded {
			return apperr.InvalidState("circle %s has ended", circleID)
		}
		if targetUID == circle.HostUID {
			return apperr.InvalidState("the host's role cannot change")
		}
		member, err := getMember(tx, circleID, targetUID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperr.NotFound("member %s not found in circle %s", targetUID, circleID)
		}
		if member.Role == role {
			target = member
			return nil
		}

		now := m.now()
		fields := store.Fields{
			"role":             string(role),
			"lastRoleChangeAt": store.Millis(now),
		}
		if role == RoleListener {
			fields["isMuted"] = true
			member.IsMuted = true
		}
		path := memberPath(circleID, targetUID)
		if err := tx.Update(path, fields); err != nil {
			return fmt.Errorf("failed to change role: %w", err)
		}
		if err := tx.Increment(path, "roleChangeCount", 1); err != nil {
			return fmt.Errorf("failed to count member role change: %w", err)
		}
		if err := tx.Increment(circlePath(circleID), "roleChangeCount", 1); err != nil {
			return fmt.Errorf("failed to count circle role change: %w", err)
		}
		if err := tx.Delete(handRaisePath(circleID, targetUID)); err != nil {
			return fmt.Errorf("failed to delete hand raise: %w", err)
		}
		member.Role = role
		member.LastRoleChangeAt = &now
		member.RoleChangeCount++
		target = member
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("member role changed", "circle_id", circleID, "user_id", targetUID, "role", role)

	tok, err := m.mint(ctx, circleID, targetUID, target.Role)
	if err != nil {
		return nil, err
	}
	return &RoleChangeResult{Token: tok, URL: m.opts.TransportURL, Member: target}, nil
}

// checkSpeakerCap counts active speakers outside the role-change
// transaction, so concurrent promotions can overshoot maxSpeakers.
func (m *MembershipCoordinator) checkSpeakerCap(ctx context.Context, circleID, targetUID string) error {
	circle, err := m.readCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if circle == nil {
		return apperr.NotFound("circle %s not found", circleID)
	}
	docs, err := m.store.Query(ctx, store.Query{
		Collection: membersCollection(circleID),
		Filters: []store.Filter{
			{Field: "role", Value: string(RoleSpeaker)},
			{Field: "status", Value: string(MemberActive)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to count speakers of circle %s: %w", circleID, err)
	}
	speakers := 0
	for _, doc := range docs {
		if doc.ID() != targetUID {
			speakers++
		}
	}
	if speakers >= circle.MaxSpeakers {
		return apperr.InvalidState("circle %s already has %d speakers", circleID, circle.MaxSpeakers)
	}
	return nil
}

// Leave vacates a non-host member's seat.
func (m *MembershipCoordinator) Leave(ctx context.Context, userID, circleID string) error {
	if userID == "" {
		return apperr.Unauthenticated("caller identity is required")
	}
	uncounted := false
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := getCircle(tx, circleID)
		if err != nil {
			return err
		}
		if circle == nil {
			return apperr.NotFound("circle %s not found", circleID)
		}
		if userID == circle.HostUID {
			return apperr.InvalidState("the host must end the circle instead of leaving")
		}
		member, err := getMember(tx, circleID, userID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperr.NotFound("member %s not found in circle %s", userID, circleID)
		}
		uncounted, err = vacate(tx, circleID, member, m.now())
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("member left", "circle_id", circleID, "user_id", userID, "uncounted", uncounted)
	return nil
}

// RaiseHand records a listener's request to speak. Raising twice is a
// no-op.
func (m *MembershipCoordinator) RaiseHand(ctx context.Context, userID, circleID string) (*HandRaise, error) {
	if userID == "" {
		return nil, apperr.Unauthenticated("caller identity is required")
	}
	var raised *HandRaise
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := getCircle(tx, circleID)
		if err != nil {
			return err
		}
		if circle == nil {
			return apperr.NotFound("circle %s not found", circleID)
		}
		if circle.Status != StatusLive {
			return apperr.InvalidState("hands can only be raised in a live circle")
		}
		member, err := getMember(tx, circleID, userID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperr.NotFound("member %s not found in circle %s", userID, circleID)
		}
		if member.Status != MemberActive || member.Role != RoleListener {
			return apperr.InvalidState("only active listeners can raise a hand")
		}
		path := handRaisePath(circleID, userID)
		doc, err := tx.Get(path)
		if err != nil {
			return fmt.Errorf("failed to read hand raise: %w", err)
		}
		if doc != nil {
			raised = decodeHandRaise(doc)
			return nil
		}
		raised = &HandRaise{UserID: userID, RaisedAt: m.now()}
		if err := tx.Set(path, handRaiseFields(raised)); err != nil {
			return fmt.Errorf("failed to raise hand: %w", err)
		}
		if err := tx.Increment(memberPath(circleID, userID), "handRaiseCount", 1); err != nil {
			return fmt.Errorf("failed to count member hand raise: %w", err)
		}
		if err := tx.Increment(circlePath(circleID), "handRaiseCount", 1); err != nil {
			return fmt.Errorf("failed to count circle hand raise: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raised, nil
}

// LowerHand withdraws a hand raise. Members lower their own; the host may
// lower anyone's. An empty targetUID means the requester.
func (m *MembershipCoordinator) LowerHand(ctx context.Context, requester, circleID, targetUID string) error {
	if requester == "" {
		return apperr.Unauthenticated("caller identity is required")
	}
	if targetUID == "" {
		targetUID = requester
	}
	return m.store.RunTransaction(ctx, func(tx store.Tx) error {
		circle, err := getCircle(tx, circleID)
		if err != nil {
			return err
		}
		if circle == nil {
			return apperr.NotFound("circle %s not found", circleID)
		}
		if requester != targetUID && requester != circle.HostUID {
			return apperr.Forbidden("only the host can lower another member's hand")
		}
		if err := tx.Delete(handRaisePath(circleID, targetUID)); err != nil {
			return fmt.Errorf("failed to lower hand: %w", err)
		}
		return nil
	})
}

// MuteMember sets or lifts a host-imposed mute. Lifting it leaves
// listeners muted.
func (m *MembershipCoordinator) MuteMember(ctx context.Context, requester, circleID, targetUID string, muted bool, reason string) (*Member, error) {
	var target *Member
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		member, err := m.moderationTarget(tx, requester, circleID, targetUID)
		if err != nil {
			return err
		}
		member.IsMutedByHost = muted
		member.IsMuted = muted || member.Role == RoleListener
		member.MuteReason = ""
		if muted {
			member.MuteReason = reason
		}
		if err := tx.Update(memberPath(circleID, targetUID), store.Fields{
			"isMutedByHost": member.IsMutedByHost,
			"isMuted":       member.IsMuted,
			"muteReason":    member.MuteReason,
		}); err != nil {
			return fmt.Errorf("failed to mute member: %w", err)
		}
		target = member
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("member mute changed", "circle_id", circleID, "user_id", targetUID, "muted", muted)
	return target, nil
}

// KickMember removes a member on the host's behalf. The record stays so
// the member can rejoin.
func (m *MembershipCoordinator) KickMember(ctx context.Context, requester, circleID, targetUID, reason string) (*Member, error) {
	var target *Member
	err := m.store.RunTransaction(ctx, func(tx store.Tx) error {
		member, err := m.moderationTarget(tx, requester, circleID, targetUID)
		if err != nil {
			return err
		}
		now := m.now()
		if _, err := vacate(tx, circleID, member, now); err != nil {
			return err
		}
		path := memberPath(circleID, targetUID)
		if err := tx.Update(path, store.Fields{
			"lastKickAt": store.Millis(now),
			"kickReason": reason,
		}); err != nil {
			return fmt.Errorf("failed to record kick: %w", err)
		}
		if err := tx.Increment(path, "kickCount", 1); err != nil {
			return fmt.Errorf("failed to count kick: %w", err)
		}
		member.LastKickAt = &now
		member.KickReason = reason
		member.KickCount++
		target = member
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("member kicked", "circle_id", circleID, "user_id", targetUID)
	return target, nil
}

func (m *MembershipCoordinator) moderationTarget(tx store.Tx, requester, circleID, targetUID string) (*Member, error) {
	circle, err := hostCircle(tx, requester, circleID)
	if err != nil {
		return nil, err
	}
	if circle.Status == StatusEnded {
		return nil, apperr.InvalidState("circle %s has ended", circleID)
	}
	if targetUID == circle.HostUID {
		return nil, apperr.InvalidState("the host cannot moderate themselves")
	}
	member, err := getMember(tx, circleID, targetUID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, apperr.NotFound("member %s not found in circle %s", targetUID, circleID)
	}
	return member, nil
}
