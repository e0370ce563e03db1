package webhook

import (
	"net/http"
	"time"
)

type EventKind string

const (
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventTrackPublished    EventKind = "track_published"
	EventTrackUnpublished  EventKind = "track_unpublished"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
	TrackData  TrackKind = "data"
)

// Event is a transport notification after signature verification. Room
// names are circle ids and participant identities are user ids.
type Event struct {
	ID                  string
	Kind                EventKind
	RoomName            string
	ParticipantIdentity string
	TrackKind           TrackKind
	TrackID             string
	CreatedAt           time.Time
}

// Receiver authenticates and decodes a webhook request. It fails with
// apperr.ErrUnauthorized on a missing or bad signature and with
// apperr.ErrMalformedInput on an empty or undecodable body.
type Receiver interface {
	Receive(r *http.Request) (*Event, error)
}
