package circle

import (
	"slices"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusLive, StatusEnded},
	StatusLive:      {StatusEnded},
	StatusEnded:     {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// NextStatuses lists the statuses s may move to.
func (s Status) NextStatuses() []Status {
	return slices.Clone(transitions[s])
}

func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Joinable reports whether members may be admitted.
func (s Status) Joinable() bool {
	return s == StatusScheduled || s == StatusLive
}

type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
	PrivacySecret  Privacy = "secret"
)

func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyPrivate, PrivacySecret:
		return true
	}
	return false
}

type Role string

const (
	RoleHost     Role = "host"
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleSpeaker, RoleListener:
		return true
	}
	return false
}

// CanPublish reports whether the role may publish audio.
func (r Role) CanPublish() bool {
	return r == RoleHost || r == RoleSpeaker
}

type MemberStatus string

const (
	MemberActive       MemberStatus = "active"
	MemberLeft         MemberStatus = "left"
	MemberDisconnected MemberStatus = "disconnected"
)

type EndReason string

const (
	EndReasonHostEnded        EndReason = "host_ended"
	EndReasonHostDisconnected EndReason = "host_disconnected"
	EndReasonTimeout          EndReason = "timeout"
)

const (
	DefaultMaxSpeakers = 8
	MaxMaxSpeakers     = 20
	DefaultCategory    = "general"
)

// Circle is a room's identity and configuration. Counters are adjusted
// only through store increments; speaking time is in milliseconds.
type Circle struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Category           string     `json:"category"`
	Privacy            Privacy    `json:"privacy"`
	HostUID            string     `json:"hostUid"`
	CoverURL           string     `json:"coverUrl,omitempty"`
	StartAt            time.Time  `json:"startAt"`
	Status             Status     `json:"status"`
	MaxSpeakers        int        `json:"maxSpeakers"`
	CreatedAt          time.Time  `json:"createdAt"`
	ParticipantCount   int64      `json:"participantCount"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
	EndReason          EndReason  `json:"endReason,omitempty"`
	HostDisconnectedAt *time.Time `json:"hostDisconnectedAt,omitempty"`
	IsReplay           bool       `json:"isReplay"`
	TotalSpeakTime     int64      `json:"totalSpeakTime"`
	HandRaiseCount     int64      `json:"handRaiseCount"`
	RoleChangeCount    int64      `json:"roleChangeCount"`
}

// Member is one user's participation in a circle, keyed by user id.
type Member struct {
	UserID           string       `json:"uid"`
	Role             Role         `json:"role"`
	IsMuted          bool         `json:"isMuted"`
	JoinedAt         time.Time    `json:"joinedAt"`
	Status           MemberStatus `json:"status"`
	LeftAt           *time.Time   `json:"leftAt,omitempty"`
	DisconnectedAt   *time.Time   `json:"disconnectedAt,omitempty"`
	DisconnectEpoch  int64        `json:"-"`
	RejoinCount      int64        `json:"rejoinCount"`
	LastRejoinAt     *time.Time   `json:"lastRejoinAt,omitempty"`
	LastSpokeAt      *time.Time   `json:"lastSpokeAt,omitempty"`
	IsMutedByHost    bool         `json:"isMutedByHost"`
	MuteReason       string       `json:"muteReason,omitempty"`
	KickCount        int64        `json:"kickCount"`
	LastKickAt       *time.Time   `json:"lastKickAt,omitempty"`
	KickReason       string       `json:"kickReason,omitempty"`
	TotalSpeakTime   int64        `json:"totalSpeakTime"`
	HandRaiseCount   int64        `json:"handRaiseCount"`
	RoleChangeCount  int64        `json:"roleChangeCount"`
	LastRoleChangeAt *time.Time   `json:"lastRoleChangeAt,omitempty"`
}

// Speaking reports whether an audio track is currently published.
func (m Member) Speaking() bool {
	return m.LastSpokeAt != nil
}

type HandRaise struct {
	UserID   string    `json:"uid"`
	RaisedAt time.Time `json:"raisedAt"`
}

// initialStatus is live when startAt has already passed.
func initialStatus(startAt, now time.Time) Status {
	if startAt.After(now) {
		return StatusScheduled
	}
	return StatusLive
}
