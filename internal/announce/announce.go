package announce

import (
	"context"
	"time"
)

// Announcement describes a circle going live or ending.
type Announcement struct {
	CircleID         string    `json:"circleId"`
	Title            string    `json:"title"`
	Category         string    `json:"category"`
	HostUID          string    `json:"hostUid"`
	HostName         string    `json:"hostName,omitempty"`
	Status           string    `json:"status"`
	EndReason        string    `json:"endReason,omitempty"`
	ParticipantCount int64     `json:"participantCount"`
	TotalSpeakTimeMs int64     `json:"totalSpeakTimeMs"`
	HandRaiseCount   int64     `json:"handRaiseCount"`
	RoleChangeCount  int64     `json:"roleChangeCount"`
	At               time.Time `json:"at"`
}

type Notifier interface {
	CircleLive(ctx context.Context, a Announcement) error
	CircleEnded(ctx context.Context, a Announcement) error
}

// Nop discards announcements.
type Nop struct{}

func (Nop) CircleLive(context.Context, Announcement) error  { return nil }
func (Nop) CircleEnded(context.Context, Announcement) error { return nil }
