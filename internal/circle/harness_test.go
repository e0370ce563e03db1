package circle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/circles/internal/announce"
	"github.com/foxseedlab/circles/internal/clock"
	"github.com/foxseedlab/circles/internal/mocks"
	"github.com/foxseedlab/circles/internal/schedule"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/foxseedlab/circles/internal/store/memstore"
	"github.com/foxseedlab/circles/internal/token"
	"github.com/foxseedlab/circles/internal/webhook"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testStart = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const (
	hostUID  = "host"
	guestUID = "guest"
	otherUID = "other"
)

type recordingNotifier struct {
	mu    sync.Mutex
	live  []announce.Announcement
	ended []announce.Announcement
}

func (n *recordingNotifier) CircleLive(_ context.Context, a announce.Announcement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.live = append(n.live, a)
	return nil
}

func (n *recordingNotifier) CircleEnded(_ context.Context, a announce.Announcement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, a)
	return nil
}

type memLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (l *memLedger) Claim(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[id] {
		return false, nil
	}
	l.seen[id] = true
	return true, nil
}

func (l *memLedger) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, id)
	return nil
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	clock *clock.FakeClock
	sched *schedule.Scheduler

	notifier *recordingNotifier
	ledger   *memLedger
	unknown  map[string]bool
	eventSeq int
	// mintErr, when set, fails every token mint.
	mintErr  error

	lifecycle  *LifecycleManager
	members    *MembershipCoordinator
	detector   *FailureDetector
	reconciler *EventReconciler
}

// newHarness wires every component over memstore and a fake clock. Tokens
// are "tok-<user>-<role>".
func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		store:    memstore.New(),
		clock:    clock.Fake(testStart),
		notifier: &recordingNotifier{},
		ledger:   &memLedger{seen: map[string]bool{}},
		unknown:  map[string]bool{},
	}
	h.sched = schedule.New(h.clock)
	t.Cleanup(h.sched.Shutdown)

	tokens := mocks.NewMockIssuer(ctrl)
	tokens.EXPECT().Mint(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, in token.MintInput) (string, error) {
			if h.mintErr != nil {
				return "", h.mintErr
			}
			return "tok-" + in.UserID + "-" + in.Role, nil
		}).AnyTimes()
	users := mocks.NewMockDirectory(ctrl)
	users.EXPECT().Exists(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, uid string) (bool, error) {
			return !h.unknown[uid], nil
		}).AnyTimes()
	users.EXPECT().DisplayName(gomock.Any(), gomock.Any()).Return("Someone", true, nil).AnyTimes()

	opts := DefaultOptions()
	opts.DailyQuota = 100
	for _, fn := range tweak {
		fn(&opts)
	}
	deps := Deps{
		Store:     h.store,
		Tokens:    tokens,
		Users:     users,
		Notifier:  h.notifier,
		Scheduler: h.sched,
		Clock:     h.clock,
	}
	h.detector = NewFailureDetector(deps, opts)
	h.lifecycle = NewLifecycleManager(deps, opts)
	h.members = NewMembershipCoordinator(deps, opts, h.detector)
	h.reconciler = NewEventReconciler(deps, opts, h.ledger, h.detector)
	return h
}

// liveCircle creates a live circle hosted by hostUID.
func (h *harness) liveCircle() *Circle {
	h.t.Helper()
	res, err := h.lifecycle.Create(h.ctx, hostUID, CreateParams{Title: "morning chat"})
	require.NoError(h.t, err)
	require.Equal(h.t, StatusLive, res.Circle.Status)
	return res.Circle
}

func (h *harness) scheduledCircle() *Circle {
	h.t.Helper()
	start := h.clock.Now().Add(time.Hour)
	res, err := h.lifecycle.Create(h.ctx, hostUID, CreateParams{Title: "later chat", StartAt: &start})
	require.NoError(h.t, err)
	require.Equal(h.t, StatusScheduled, res.Circle.Status)
	return res.Circle
}

func (h *harness) circle(id string) *Circle {
	h.t.Helper()
	doc, err := h.store.Get(h.ctx, circlePath(id))
	require.NoError(h.t, err)
	require.NotNil(h.t, doc, "circle %s missing", id)
	return decodeCircle(doc)
}

func (h *harness) member(circleID, uid string) *Member {
	h.t.Helper()
	doc, err := h.store.Get(h.ctx, memberPath(circleID, uid))
	require.NoError(h.t, err)
	require.NotNil(h.t, doc, "member %s missing", uid)
	return decodeMember(doc)
}

func (h *harness) exists(path string) bool {
	h.t.Helper()
	doc, err := h.store.Get(h.ctx, path)
	require.NoError(h.t, err)
	return doc != nil
}

func (h *harness) join(circleID, uid string) *JoinResult {
	h.t.Helper()
	res, err := h.members.Join(h.ctx, uid, circleID, "")
	require.NoError(h.t, err)
	return res
}

func (h *harness) event(kind webhook.EventKind, circleID, uid string) *webhook.Event {
	h.eventSeq++
	return &webhook.Event{
		ID:                  fmt.Sprintf("evt-%d", h.eventSeq),
		Kind:                kind,
		RoomName:            circleID,
		ParticipantIdentity: uid,
		TrackKind:           webhook.TrackAudio,
		CreatedAt:           h.clock.Now(),
	}
}

func (h *harness) deliver(ev *webhook.Event) *Result {
	h.t.Helper()
	res, err := h.reconciler.Handle(h.ctx, ev)
	require.NoError(h.t, err)
	return res
}

func setField(t *testing.T, s store.Store, path string, fields store.Fields) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), path, fields))
}
