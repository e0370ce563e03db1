package livekit

import (
	"net/http"
	"time"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/webhook"
	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lkwebhook "github.com/livekit/protocol/webhook"
	"google.golang.org/protobuf/encoding/protojson"
)

var unmarshalOptions = protojson.UnmarshalOptions{DiscardUnknown: true}

// WebhookReceiver verifies the signed JWT LiveKit puts in Authorization
// and decodes the body into a transport event.
type WebhookReceiver struct {
	keys auth.KeyProvider
}

func NewWebhookReceiver(apiKey, apiSecret string) *WebhookReceiver {
	return &WebhookReceiver{keys: auth.NewSimpleKeyProvider(apiKey, apiSecret)}
}

func (w *WebhookReceiver) Receive(r *http.Request) (*webhook.Event, error) {
	body, err := lkwebhook.Receive(r, w.keys)
	if err != nil {
		return nil, apperr.Unauthorized("webhook signature rejected: %v", err)
	}
	if len(body) == 0 {
		return nil, apperr.MalformedInput("webhook body is empty")
	}

	var ev lkproto.WebhookEvent
	if err := unmarshalOptions.Unmarshal(body, &ev); err != nil {
		return nil, apperr.MalformedInput("webhook body is not a LiveKit event: %v", err)
	}
	if ev.GetId() == "" {
		return nil, apperr.MalformedInput("webhook event has no id")
	}
	return toEvent(&ev), nil
}

func toEvent(ev *lkproto.WebhookEvent) *webhook.Event {
	out := &webhook.Event{
		ID:                  ev.GetId(),
		Kind:                webhook.EventKind(ev.GetEvent()),
		RoomName:            ev.GetRoom().GetName(),
		ParticipantIdentity: ev.GetParticipant().GetIdentity(),
		TrackID:             ev.GetTrack().GetSid(),
	}
	if ev.GetTrack() != nil {
		out.TrackKind = trackKind(ev.GetTrack().GetType())
	}
	if ev.GetCreatedAt() > 0 {
		out.CreatedAt = time.Unix(ev.GetCreatedAt(), 0).UTC()
	}
	return out
}

func trackKind(t lkproto.TrackType) webhook.TrackKind {
	switch t {
	case lkproto.TrackType_AUDIO:
		return webhook.TrackAudio
	case lkproto.TrackType_VIDEO:
		return webhook.TrackVideo
	default:
		return webhook.TrackData
	}
}
