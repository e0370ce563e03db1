package circle

import (
	"fmt"
	"time"

	"github.com/foxseedlab/circles/internal/store"
)

// admission is what an admit call changed.
type admission struct {
	member *Member
	// counted is true when participantCount was incremented.
	counted bool
	// reconnected is true when a disconnected host came back.
	reconnected bool
}

func newMember(userID string, role Role, now time.Time) *Member {
	return &Member{
		UserID:   userID,
		Role:     role,
		IsMuted:  role == RoleListener,
		JoinedAt: now,
		Status:   MemberActive,
	}
}

// admit brings userID into the circle as an active member. An existing
// record keeps its role; role only applies to a new record. It is the
// shared path of a client join and a transport participant_joined event.
func admit(tx store.Tx, circle *Circle, existing *Member, userID string, role Role, now time.Time) (*admission, error) {
	path := memberPath(circle.ID, userID)
	if existing == nil {
		m := newMember(userID, role, now)
		if err := tx.Set(path, memberFields(m)); err != nil {
			return nil, fmt.Errorf("failed to create member: %w", err)
		}
		if err := tx.Increment(circlePath(circle.ID), "participantCount", 1); err != nil {
			return nil, fmt.Errorf("failed to count member: %w", err)
		}
		return &admission{member: m, counted: true}, nil
	}

	m := *existing
	switch existing.Status {
	case MemberActive:
		return &admission{member: &m}, nil

	case MemberLeft:
		m.Status = MemberActive
		m.LeftAt = nil
		m.LastSpokeAt = nil
		m.RejoinCount++
		m.LastRejoinAt = &now
		m.JoinedAt = now
		if err := tx.Update(path, store.Fields{
			"status":       string(MemberActive),
			"leftAt":       nil,
			"lastSpokeAt":  nil,
			"lastRejoinAt": store.Millis(now),
			"joinedAt":     store.Millis(now),
		}); err != nil {
			return nil, fmt.Errorf("failed to reactivate member: %w", err)
		}
		if err := tx.Increment(path, "rejoinCount", 1); err != nil {
			return nil, fmt.Errorf("failed to count rejoin: %w", err)
		}
		if err := tx.Increment(circlePath(circle.ID), "participantCount", 1); err != nil {
			return nil, fmt.Errorf("failed to count member: %w", err)
		}
		return &admission{member: &m, counted: true}, nil

	case MemberDisconnected:
		// A disconnected member was never uncounted. Bumping the epoch
		// invalidates the failure check armed for this disconnection.
		m.Status = MemberActive
		m.DisconnectedAt = nil
		m.DisconnectEpoch++
		if err := tx.Update(path, store.Fields{
			"status":          string(MemberActive),
			"disconnectedAt":  nil,
			"disconnectEpoch": m.DisconnectEpoch,
		}); err != nil {
			return nil, fmt.Errorf("failed to reconnect member: %w", err)
		}
		reconnected := userID == circle.HostUID
		if reconnected {
			if err := tx.Update(circlePath(circle.ID), store.Fields{"hostDisconnectedAt": nil}); err != nil {
				return nil, fmt.Errorf("failed to clear host disconnection: %w", err)
			}
			circle.HostDisconnectedAt = nil
		}
		return &admission{member: &m, reconnected: reconnected}, nil
	}
	return nil, fmt.Errorf("member %s has unknown status %q", userID, existing.Status)
}

// vacate marks a member as left and uncounts them. A member who already
// left is not uncounted a second time; a disconnected member was never
// uncounted, so it is.
func vacate(tx store.Tx, circleID string, m *Member, now time.Time) (bool, error) {
	if err := flushSpeaking(tx, circleID, m, now); err != nil {
		return false, err
	}
	if err := tx.Delete(handRaisePath(circleID, m.UserID)); err != nil {
		return false, fmt.Errorf("failed to delete hand raise: %w", err)
	}
	if m.Status == MemberLeft {
		return false, nil
	}
	m.Status = MemberLeft
	m.LeftAt = &now
	if err := tx.Update(memberPath(circleID, m.UserID), store.Fields{
		"status": string(MemberLeft),
		"leftAt": store.Millis(now),
	}); err != nil {
		return false, fmt.Errorf("failed to mark member left: %w", err)
	}
	if err := tx.Increment(circlePath(circleID), "participantCount", -1); err != nil {
		return false, fmt.Errorf("failed to uncount member: %w", err)
	}
	return true, nil
}
