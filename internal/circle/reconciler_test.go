package circle

import (
	"testing"
	"time"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/webhook"
	"github.com/stretchr/testify/require"
)

func TestParticipantJoined_CreatesListener(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()

	res := h.deliver(h.event(webhook.EventParticipantJoined, c.ID, guestUID))
	require.Equal(t, &Result{Status: OutcomeReceived, Event: "participant_joined"}, res)

	m := h.member(c.ID, guestUID)
	require.Equal(t, RoleListener, m.Role)
	require.Equal(t, MemberActive, m.Status)
	require.Equal(t, int64(2), h.circle(c.ID).ParticipantCount)

	// Another delivery for an already active member changes nothing.
	h.deliver(h.event(webhook.EventParticipantJoined, c.ID, guestUID))
	require.Equal(t, int64(2), h.circle(c.ID).ParticipantCount)
}

func TestDuplicateEventAppliedOnce(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)
	require.NoError(t, h.members.Leave(h.ctx, guestUID, c.ID))

	ev := h.event(webhook.EventParticipantJoined, c.ID, guestUID)
	require.Equal(t, OutcomeReceived, h.deliver(ev).Status)
	require.Equal(t, OutcomeIgnored, h.deliver(ev).Status)

	m := h.member(c.ID, guestUID)
	require.Equal(t, int64(1), m.RejoinCount)
	require.Equal(t, int64(2), h.circle(c.ID).ParticipantCount)
}

func TestFailedEventReleasesClaim(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.unknown[guestUID] = true

	ev := h.event(webhook.EventParticipantJoined, c.ID, guestUID)
	_, err := h.reconciler.Handle(h.ctx, ev)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	delete(h.unknown, guestUID)
	require.Equal(t, OutcomeReceived, h.deliver(ev).Status)
	require.Equal(t, int64(2), h.circle(c.ID).ParticipantCount)
}

func TestParticipantLeft_NonHost(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)
	_, err := h.members.RaiseHand(h.ctx, guestUID, c.ID)
	require.NoError(t, err)

	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, guestUID))
	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, guestUID))

	m := h.member(c.ID, guestUID)
	require.Equal(t, MemberLeft, m.Status)
	require.False(t, h.exists(handRaisePath(c.ID, guestUID)))
	require.Equal(t, int64(1), h.circle(c.ID).ParticipantCount)
	require.Equal(t, 0, h.clock.Pending())
}

func TestParticipantLeft_UnknownMemberIsNoop(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	res := h.deliver(h.event(webhook.EventParticipantLeft, c.ID, guestUID))
	require.Equal(t, OutcomeReceived, res.Status)
	require.Equal(t, int64(1), h.circle(c.ID).ParticipantCount)
}

func TestSpeakingTimeAccumulates(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)

	h.deliver(h.event(webhook.EventTrackPublished, c.ID, guestUID))
	require.NotNil(t, h.member(c.ID, guestUID).LastSpokeAt)

	h.clock.Advance(time.Second)
	// A second publish does not restart the interval.
	h.deliver(h.event(webhook.EventTrackPublished, c.ID, guestUID))
	h.clock.Advance(time.Second)
	h.deliver(h.event(webhook.EventTrackUnpublished, c.ID, guestUID))

	m := h.member(c.ID, guestUID)
	require.Nil(t, m.LastSpokeAt)
	require.GreaterOrEqual(t, m.TotalSpeakTime, int64(2000))
	require.GreaterOrEqual(t, h.circle(c.ID).TotalSpeakTime, int64(2000))

	// Unpublish without an open interval adds nothing.
	h.deliver(h.event(webhook.EventTrackUnpublished, c.ID, guestUID))
	require.Equal(t, m.TotalSpeakTime, h.member(c.ID, guestUID).TotalSpeakTime)
}

func TestLeaveFlushesOpenSpeakingInterval(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)
	h.deliver(h.event(webhook.EventTrackPublished, c.ID, guestUID))
	h.clock.Advance(1500 * time.Millisecond)

	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, guestUID))
	m := h.member(c.ID, guestUID)
	require.Nil(t, m.LastSpokeAt)
	require.Equal(t, int64(1500), m.TotalSpeakTime)
}

func TestLatePublishAfterLeaveOpensNoInterval(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)

	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, guestUID))
	h.deliver(h.event(webhook.EventTrackPublished, c.ID, guestUID))
	require.Nil(t, h.member(c.ID, guestUID).LastSpokeAt)

	h.clock.Advance(3 * time.Hour)
	h.join(c.ID, guestUID)
	h.deliver(h.event(webhook.EventTrackPublished, c.ID, guestUID))
	h.clock.Advance(2 * time.Second)
	h.deliver(h.event(webhook.EventTrackUnpublished, c.ID, guestUID))

	m := h.member(c.ID, guestUID)
	require.Equal(t, MemberActive, m.Status)
	require.Equal(t, int64(2000), m.TotalSpeakTime)
	require.Equal(t, int64(2000), h.circle(c.ID).TotalSpeakTime)
}

func TestRejoinClearsStaleSpeakingStamp(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)
	require.NoError(t, h.members.Leave(h.ctx, guestUID, c.ID))
	setField(t, h.store, memberPath(c.ID, guestUID), store.Fields{"lastSpokeAt": store.Millis(testStart)})

	h.clock.Advance(time.Hour)
	h.join(c.ID, guestUID)
	require.Nil(t, h.member(c.ID, guestUID).LastSpokeAt)
}

func TestPublishOnEndedCircleIsIgnored(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)
	setField(t, h.store, circlePath(c.ID), store.Fields{"status": string(StatusEnded)})

	h.deliver(h.event(webhook.EventTrackPublished, c.ID, guestUID))
	require.Nil(t, h.member(c.ID, guestUID).LastSpokeAt)
}

func TestIgnoredEvents(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)

	video := h.event(webhook.EventTrackPublished, c.ID, guestUID)
	video.TrackKind = webhook.TrackVideo
	require.Equal(t, &Result{Status: OutcomeIgnored, Event: "track_published"}, h.deliver(video))
	require.Nil(t, h.member(c.ID, guestUID).LastSpokeAt)

	other := h.event("room_finished", c.ID, "")
	require.Equal(t, OutcomeIgnored, h.deliver(other).Status)

	noRoom := h.event(webhook.EventParticipantJoined, "", guestUID)
	require.Equal(t, OutcomeIgnored, h.deliver(noRoom).Status)
}

func TestParticipantJoined_EndedCircleIsNoop(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	_, err := h.lifecycle.End(h.ctx, hostUID, c.ID)
	require.NoError(t, err)

	res := h.deliver(h.event(webhook.EventParticipantJoined, c.ID, guestUID))
	require.Equal(t, OutcomeReceived, res.Status)
	require.False(t, h.exists(memberPath(c.ID, guestUID)))
}

func TestParticipantJoined_UnknownCircle(t *testing.T) {
	h := newHarness(t)
	_, err := h.reconciler.Handle(h.ctx, h.event(webhook.EventParticipantJoined, "missing", guestUID))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
