package circle

import (
	"fmt"
	"time"

	"github.com/foxseedlab/circles/internal/store"
)

const (
	circlesCollection = "circles"
	quotasCollection  = "circleQuotas"
	membersSegment    = "members"
	handRaisesSegment = "handRaises"
)

func circlePath(circleID string) string {
	return store.Join(circlesCollection, circleID)
}

func membersCollection(circleID string) string {
	return store.Join(circlesCollection, circleID, membersSegment)
}

func memberPath(circleID, userID string) string {
	return store.Join(membersCollection(circleID), userID)
}

func handRaisesCollection(circleID string) string {
	return store.Join(circlesCollection, circleID, handRaisesSegment)
}

func handRaisePath(circleID, userID string) string {
	return store.Join(handRaisesCollection(circleID), userID)
}

// quotaPath keys the creation counter by host and local calendar day.
func quotaPath(userID string, day time.Time) string {
	return store.Join(quotasCollection, fmt.Sprintf("%s_%s", userID, day.Format("20060102")))
}

func circleFields(c *Circle) store.Fields {
	return store.Fields{
		"title":              c.Title,
		"description":        c.Description,
		"category":           c.Category,
		"privacy":            string(c.Privacy),
		"hostUid":            c.HostUID,
		"coverUrl":           c.CoverURL,
		"startAt":            store.Millis(c.StartAt),
		"status":             string(c.Status),
		"maxSpeakers":        int64(c.MaxSpeakers),
		"createdAt":          store.Millis(c.CreatedAt),
		"participantCount":   c.ParticipantCount,
		"endedAt":            store.MillisOrNil(c.EndedAt),
		"endReason":          string(c.EndReason),
		"hostDisconnectedAt": store.MillisOrNil(c.HostDisconnectedAt),
		"isReplay":           c.IsReplay,
		"totalSpeakTime":     c.TotalSpeakTime,
		"handRaiseCount":     c.HandRaiseCount,
		"roleChangeCount":    c.RoleChangeCount,
	}
}

func decodeCircle(doc *store.Document) *Circle {
	d := doc.Data
	maxSpeakers := int(d.Int64("maxSpeakers"))
	if maxSpeakers <= 0 {
		maxSpeakers = DefaultMaxSpeakers
	}
	return &Circle{
		ID:                 doc.ID(),
		Title:              d.String("title"),
		Description:        d.String("description"),
		Category:           d.String("category"),
		Privacy:            Privacy(d.String("privacy")),
		HostUID:            d.String("hostUid"),
		CoverURL:           d.String("coverUrl"),
		StartAt:            d.Time("startAt"),
		Status:             Status(d.String("status")),
		MaxSpeakers:        maxSpeakers,
		CreatedAt:          d.Time("createdAt"),
		ParticipantCount:   d.Int64("participantCount"),
		EndedAt:            d.TimePtr("endedAt"),
		EndReason:          EndReason(d.String("endReason")),
		HostDisconnectedAt: d.TimePtr("hostDisconnectedAt"),
		IsReplay:           d.Bool("isReplay"),
		TotalSpeakTime:     d.Int64("totalSpeakTime"),
		HandRaiseCount:     d.Int64("handRaiseCount"),
		RoleChangeCount:    d.Int64("roleChangeCount"),
	}
}

func memberFields(m *Member) store.Fields {
	return store.Fields{
		"role":             string(m.Role),
		"isMuted":          m.IsMuted,
		"joinedAt":         store.Millis(m.JoinedAt),
		"status":           string(m.Status),
		"leftAt":           store.MillisOrNil(m.LeftAt),
		"disconnectedAt":   store.MillisOrNil(m.DisconnectedAt),
		"disconnectEpoch":  m.DisconnectEpoch,
		"rejoinCount":      m.RejoinCount,
		"lastRejoinAt":     store.MillisOrNil(m.LastRejoinAt),
		"lastSpokeAt":      store.MillisOrNil(m.LastSpokeAt),
		"isMutedByHost":    m.IsMutedByHost,
		"muteReason":       m.MuteReason,
		"kickCount":        m.KickCount,
		"lastKickAt":       store.MillisOrNil(m.LastKickAt),
		"kickReason":       m.KickReason,
		"totalSpeakTime":   m.TotalSpeakTime,
		"handRaiseCount":   m.HandRaiseCount,
		"roleChangeCount":  m.RoleChangeCount,
		"lastRoleChangeAt": store.MillisOrNil(m.LastRoleChangeAt),
	}
}

// decodeMember resolves a missing or null status to active; older
// records were written without one.
func decodeMember(doc *store.Document) *Member {
	d := doc.Data
	status := MemberStatus(d.String("status"))
	if status == "" {
		status = MemberActive
	}
	return &Member{
		UserID:           doc.ID(),
		Role:             Role(d.String("role")),
		IsMuted:          d.Bool("isMuted"),
		JoinedAt:         d.Time("joinedAt"),
		Status:           status,
		LeftAt:           d.TimePtr("leftAt"),
		DisconnectedAt:   d.TimePtr("disconnectedAt"),
		DisconnectEpoch:  d.Int64("disconnectEpoch"),
		RejoinCount:      d.Int64("rejoinCount"),
		LastRejoinAt:     d.TimePtr("lastRejoinAt"),
		LastSpokeAt:      d.TimePtr("lastSpokeAt"),
		IsMutedByHost:    d.Bool("isMutedByHost"),
		MuteReason:       d.String("muteReason"),
		KickCount:        d.Int64("kickCount"),
		LastKickAt:       d.TimePtr("lastKickAt"),
		KickReason:       d.String("kickReason"),
		TotalSpeakTime:   d.Int64("totalSpeakTime"),
		HandRaiseCount:   d.Int64("handRaiseCount"),
		RoleChangeCount:  d.Int64("roleChangeCount"),
		LastRoleChangeAt: d.TimePtr("lastRoleChangeAt"),
	}
}

func handRaiseFields(h *HandRaise) store.Fields {
	return store.Fields{"raisedAt": store.Millis(h.RaisedAt)}
}

func decodeHandRaise(doc *store.Document) *HandRaise {
	return &HandRaise{UserID: doc.ID(), RaisedAt: doc.Data.Time("raisedAt")}
}

func getCircle(tx store.Tx, circleID string) (*Circle, error) {
	doc, err := tx.Get(circlePath(circleID))
	if err != nil {
		return nil, fmt.Errorf("failed to read circle %s: %w", circleID, err)
	}
	if doc == nil {
		return nil, nil
	}
	return decodeCircle(doc), nil
}

func getMember(tx store.Tx, circleID, userID string) (*Member, error) {
	doc, err := tx.Get(memberPath(circleID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read member %s of circle %s: %w", userID, circleID, err)
	}
	if doc == nil {
		return nil, nil
	}
	return decodeMember(doc), nil
}
