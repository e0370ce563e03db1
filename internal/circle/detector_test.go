package circle

import (
	"testing"
	"time"

	"github.com/foxseedlab/circles/internal/schedule"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/webhook"
	"github.com/stretchr/testify/require"
)

func TestHostLeft_EndsCircleAfterGrace(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.join(c.ID, guestUID)

	res := h.deliver(h.event(webhook.EventParticipantLeft, c.ID, hostUID))
	require.Equal(t, OutcomeReceived, res.Status)

	stored := h.circle(c.ID)
	require.Equal(t, StatusLive, stored.Status)
	require.Equal(t, int64(2), stored.ParticipantCount)
	require.True(t, stored.HostDisconnectedAt.Equal(testStart))
	host := h.member(c.ID, hostUID)
	require.Equal(t, MemberDisconnected, host.Status)
	require.Equal(t, int64(1), host.DisconnectEpoch)

	h.clock.Advance(5*time.Minute - time.Second)
	require.Equal(t, StatusLive, h.circle(c.ID).Status)

	h.clock.Advance(time.Second)
	stored = h.circle(c.ID)
	require.Equal(t, StatusEnded, stored.Status)
	require.Equal(t, EndReasonHostDisconnected, stored.EndReason)
	require.True(t, stored.EndedAt.Equal(testStart.Add(5*time.Minute)))
	require.Len(t, h.notifier.ended, 1)
}

func TestHostRejoinWithinGrace_KeepsCircleLive(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()

	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, hostUID))
	h.clock.Advance(2 * time.Minute)

	res, err := h.members.Join(h.ctx, hostUID, c.ID, "")
	require.NoError(t, err)
	require.Equal(t, "tok-host-host", res.Token)
	_, pending := h.sched.Pending(hostKey(c.ID, hostUID))
	require.False(t, pending)

	h.clock.Advance(10 * time.Minute)
	stored := h.circle(c.ID)
	require.Equal(t, StatusLive, stored.Status)
	require.Nil(t, stored.HostDisconnectedAt)
	require.Equal(t, int64(1), stored.ParticipantCount)
	host := h.member(c.ID, hostUID)
	require.Equal(t, MemberActive, host.Status)
	require.Nil(t, host.DisconnectedAt)
}

func TestReconnect_InvalidatesOnlyItsOwnDisconnection(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()

	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, hostUID))
	h.clock.Advance(time.Minute)
	h.deliver(h.event(webhook.EventParticipantJoined, c.ID, hostUID))
	h.clock.Advance(time.Minute)
	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, hostUID))

	host := h.member(c.ID, hostUID)
	require.Equal(t, int64(3), host.DisconnectEpoch)
	epoch, ok := h.sched.Pending(hostKey(c.ID, hostUID))
	require.True(t, ok)
	require.Equal(t, int64(3), epoch)

	// A check left over from the first disconnection does nothing.
	h.detector.check(h.ctx, c.ID, hostUID, 1)
	require.Equal(t, StatusLive, h.circle(c.ID).Status)

	// The first window would have closed here.
	h.clock.Advance(3*time.Minute + time.Second)
	require.Equal(t, StatusLive, h.circle(c.ID).Status)

	h.clock.Advance(2 * time.Minute)
	stored := h.circle(c.ID)
	require.Equal(t, StatusEnded, stored.Status)
	require.Equal(t, EndReasonHostDisconnected, stored.EndReason)
}

func TestHostDisconnected_RepeatKeepsOriginalWindow(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()

	require.NoError(t, h.detector.HostDisconnected(h.ctx, c.ID, hostUID))
	h.clock.Advance(4 * time.Minute)
	require.NoError(t, h.detector.HostDisconnected(h.ctx, c.ID, hostUID))
	require.Equal(t, int64(1), h.member(c.ID, hostUID).DisconnectEpoch)

	h.clock.Advance(time.Minute)
	require.Equal(t, StatusEnded, h.circle(c.ID).Status)
}

func TestHostDisconnected_IgnoredForEndedCircle(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	_, err := h.lifecycle.End(h.ctx, hostUID, c.ID)
	require.NoError(t, err)

	require.NoError(t, h.detector.HostDisconnected(h.ctx, c.ID, hostUID))
	require.Equal(t, MemberActive, h.member(c.ID, hostUID).Status)
	require.Equal(t, 0, h.clock.Pending())
}

func TestHostDisconnected_FlushesSpeaking(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	h.deliver(h.event(webhook.EventTrackPublished, c.ID, hostUID))
	h.clock.Advance(3 * time.Second)

	h.deliver(h.event(webhook.EventParticipantLeft, c.ID, hostUID))
	host := h.member(c.ID, hostUID)
	require.Nil(t, host.LastSpokeAt)
	require.Equal(t, int64(3000), host.TotalSpeakTime)
}

func TestRecover_RearmsRemainingGrace(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	disconnectedAt := testStart.Add(-3 * time.Minute)
	setField(t, h.store, memberPath(c.ID, hostUID), store.Fields{
		"status":          string(MemberDisconnected),
		"disconnectedAt":  store.Millis(disconnectedAt),
		"disconnectEpoch": int64(4),
	})
	setField(t, h.store, circlePath(c.ID), store.Fields{"hostDisconnectedAt": store.Millis(disconnectedAt)})

	require.NoError(t, h.detector.Recover(h.ctx))
	epoch, ok := h.sched.Pending(hostKey(c.ID, hostUID))
	require.True(t, ok)
	require.Equal(t, int64(4), epoch)

	h.clock.Advance(2*time.Minute - time.Second)
	require.Equal(t, StatusLive, h.circle(c.ID).Status)
	h.clock.Advance(time.Second)
	require.Equal(t, EndReasonHostDisconnected, h.circle(c.ID).EndReason)
}

func TestRecover_ElapsedGraceEndsImmediately(t *testing.T) {
	h := newHarness(t)
	c := h.liveCircle()
	disconnectedAt := testStart.Add(-time.Hour)
	setField(t, h.store, memberPath(c.ID, hostUID), store.Fields{
		"status":          string(MemberDisconnected),
		"disconnectedAt":  store.Millis(disconnectedAt),
		"disconnectEpoch": int64(1),
	})
	setField(t, h.store, circlePath(c.ID), store.Fields{"hostDisconnectedAt": store.Millis(disconnectedAt)})

	require.NoError(t, h.detector.Recover(h.ctx))
	require.Equal(t, StatusEnded, h.circle(c.ID).Status)
}

func TestRecover_RearmsMaxDuration(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxDuration = time.Hour })
	c := h.liveCircle()
	h.sched.CancelCircle(c.ID)

	require.NoError(t, h.detector.Recover(h.ctx))
	_, ok := h.sched.Pending(schedule.Key{CircleID: c.ID, Subject: timeoutSubject})
	require.True(t, ok)

	h.clock.Advance(time.Hour)
	require.Equal(t, EndReasonTimeout, h.circle(c.ID).EndReason)
}

func TestHostGraceCheckAndTimeoutKeepSeparateKeys(t *testing.T) {
	const host = "timeout"
	h := newHarness(t, func(o *Options) { o.MaxDuration = time.Hour })
	res, err := h.lifecycle.Create(h.ctx, host, CreateParams{Title: "edge"})
	require.NoError(t, err)
	id := res.CircleID

	require.NoError(t, h.detector.HostDisconnected(h.ctx, id, host))
	_, armed := h.sched.Pending(hostKey(id, host))
	require.True(t, armed)
	_, timer := h.sched.Pending(schedule.Key{CircleID: id, Subject: timeoutSubject})
	require.True(t, timer)
	require.Equal(t, 2, h.clock.Pending())

	h.clock.Advance(5 * time.Minute)
	stored := h.circle(id)
	require.Equal(t, StatusEnded, stored.Status)
	require.Equal(t, EndReasonHostDisconnected, stored.EndReason)
}
