package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/metrics"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/DoyleJ11/truthdare-live/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const wait = time.Second

// loop stands in for the session loop: posted tasks queue up until the test
// runs them, which makes fetch completion order explicit.
type loop struct{ tasks chan func() }

func newLoop() *loop { return &loop{tasks: make(chan func(), 64)} }

func (l *loop) post(fn func()) bool {
	l.tasks <- fn
	return true
}

func (l *loop) runOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.tasks:
		fn()
	case <-time.After(wait):
		t.Fatalf("timed out waiting for a posted task")
	}
}

type result struct {
	state room.State
	err   error
}

type call struct {
	code  string
	reply chan result
}

// gatedFetcher blocks every fetch until the test answers it.
type gatedFetcher struct{ calls chan *call }

func newGatedFetcher() *gatedFetcher { return &gatedFetcher{calls: make(chan *call, 16)} }

func (f *gatedFetcher) GetRoomState(ctx context.Context, code string) (room.State, error) {
	c := &call{code: code, reply: make(chan result, 1)}
	f.calls <- c
	select {
	case r := <-c.reply:
		return r.state, r.err
	case <-ctx.Done():
		return room.State{}, ctx.Err()
	}
}

func (f *gatedFetcher) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(wait):
		t.Fatalf("timed out waiting for a fetch")
		return nil
	}
}

func (f *gatedFetcher) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch for %s", c.code)
	case <-time.After(30 * time.Millisecond):
	}
}

func (c *call) answer(s room.State) { c.reply <- result{state: s} }
func (c *call) fail(err error)      { c.reply <- result{err: err} }

var (
	amy = room.Player{ID: "1", Name: "Amy", Role: room.RoleAdmin}
	bo  = room.Player{ID: "2", Name: "Bo", Role: room.RolePlayer}
)

func waiting() room.State {
	return room.State{
		RoomID:   "r-1",
		Code:     "ABC123",
		GameMode: room.ModeTruthAndDare,
		Status:   room.StatusWaiting,
		Players:  []room.Player{amy, bo},
	}
}

func active() room.State {
	s := waiting()
	s.Status = room.StatusActive
	cur := amy
	s.CurrentPlayer = &cur
	s.CurrentQuestion = &room.Question{ID: "q-1", Text: "Ever lied?", Type: room.QuestionTruth, PlayerID: "1"}
	return s
}

func event(t *testing.T, typ types.EventType, data any) types.Event {
	t.Helper()
	ev := types.Event{Type: typ, Topic: room.Topic("ABC123")}
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		ev.Data = b
	}
	return ev
}

type fixture struct {
	r     *Reconciler
	f     *gatedFetcher
	l     *loop
	views []View
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, playerID string) *fixture {
	t.Helper()
	fx := &fixture{f: newGatedFetcher(), l: newLoop(), reg: prometheus.NewRegistry()}
	fx.r = New(context.Background(), Options{
		RoomCode: "ABC123",
		PlayerID: playerID,
		Fetcher:  fx.f,
		Post:     fx.l.post,
		OnChange: func(v View) { fx.views = append(fx.views, v) },
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics.New(fx.reg),
	})
	t.Cleanup(fx.r.Stop)
	return fx
}

// started runs the initial fetch to completion with s.
func (fx *fixture) started(t *testing.T, s room.State) {
	t.Helper()
	fx.r.Start()
	fx.f.next(t).answer(s)
	fx.l.runOne(t)
	require.Equal(t, PhaseReady, fx.r.View().Phase)
}

func TestActionFor(t *testing.T) {
	cases := map[types.EventType]Action{
		types.EvtRoomState:       ApplySnapshot,
		types.EvtPlayerJoined:    Refetch,
		types.EvtGameStarted:     Refetch,
		types.EvtQuestionSent:    Refetch,
		types.EvtAdminOverride:   Refetch,
		types.EvtNextTurn:        Refetch,
		types.EvtPlayerLeft:      Refetch,
		types.EvtGameModeChanged: Refetch,
		types.EvtRoomCreated:     Refetch,
		"CONFETTI":               Ignore,
		"":                       Ignore,
	}
	for typ, want := range cases {
		assert.Equal(t, want, ActionFor(typ), "event %q", typ)
	}
	assert.Equal(t, "invalidate-and-refetch", Refetch.String())
}

func TestReconciler_InitialFetchPopulatesState(t *testing.T) {
	fx := newFixture(t, "1")
	assert.Equal(t, PhaseLoading, fx.r.View().Phase)
	assert.Nil(t, fx.r.View().State)

	fx.r.Start()
	c := fx.f.next(t)
	assert.Equal(t, "ABC123", c.code)
	c.answer(waiting())
	fx.l.runOne(t)

	v := fx.r.View()
	assert.Equal(t, PhaseReady, v.Phase)
	require.NotNil(t, v.State)
	assert.Equal(t, waiting(), *v.State)
	assert.True(t, v.IsAdmin)
	assert.Equal(t, 1, v.Version)
	require.Len(t, fx.views, 1)
}

func TestReconciler_InitialFetchFailureIsVisible(t *testing.T) {
	fx := newFixture(t, "1")
	boom := errors.New("502 bad gateway")

	fx.r.Start()
	fx.f.next(t).fail(boom)
	fx.l.runOne(t)

	v := fx.r.View()
	assert.Equal(t, PhaseFailed, v.Phase)
	var fe *FetchError
	require.ErrorAs(t, v.Err, &fe)
	assert.Equal(t, "ABC123", fe.RoomCode)
	assert.ErrorIs(t, v.Err, boom)
	assert.Nil(t, v.State)

	// A later signal can still recover the session.
	fx.r.HandleEvent(event(t, types.EvtPlayerJoined, nil))
	fx.f.next(t).answer(waiting())
	fx.l.runOne(t)
	assert.Equal(t, PhaseReady, fx.r.View().Phase)
	assert.NoError(t, fx.r.View().Err)
}

func TestReconciler_LaterFetchFailureKeepsState(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	fx.r.HandleEvent(event(t, types.EvtNextTurn, nil))
	fx.f.next(t).fail(errors.New("timeout"))
	fx.l.runOne(t)

	v := fx.r.View()
	assert.Equal(t, PhaseReady, v.Phase)
	assert.NoError(t, v.Err)
	assert.Equal(t, waiting(), *v.State)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, 1.0, fx.fetches(t, "failed"))
}

func TestReconciler_FetchViolatingInvariantsIsAFailure(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	bad := active()
	bad.CurrentPlayer = &room.Player{ID: "99", Name: "Ghost"}
	fx.r.HandleEvent(event(t, types.EvtNextTurn, nil))
	fx.f.next(t).answer(bad)
	fx.l.runOne(t)

	assert.Equal(t, waiting(), *fx.r.View().State)
}

func TestReconciler_SignalThenFetchAppliesSnapshot(t *testing.T) {
	for _, tc := range []struct {
		player string
		admin  bool
	}{
		{"1", true},
		{"2", false},
		{"3", false},
	} {
		t.Run("player "+tc.player, func(t *testing.T) {
			fx := newFixture(t, tc.player)
			fx.started(t, waiting())

			fx.r.HandleEvent(event(t, types.EvtGameStarted, nil))
			fx.f.next(t).answer(active())
			fx.l.runOne(t)

			v := fx.r.View()
			assert.Equal(t, active(), *v.State)
			assert.Equal(t, tc.admin, v.IsAdmin)
			assert.Equal(t, 2, v.Version)
		})
	}
}

func TestReconciler_LastFetchWins(t *testing.T) {
	fx := newFixture(t, "2")
	fx.started(t, waiting())

	// F1 then F2 are issued; F2 lands first, F1 arrives late.
	fx.r.HandleEvent(event(t, types.EvtGameStarted, nil))
	f1 := fx.f.next(t)
	fx.r.HandleEvent(event(t, types.EvtQuestionSent, nil))
	f2 := fx.f.next(t)

	f2.answer(active())
	fx.l.runOne(t)
	stale := waiting()
	stale.GameMode = room.ModeDareOnly
	f1.answer(stale)
	fx.l.runOne(t)

	v := fx.r.View()
	assert.Equal(t, active(), *v.State)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, 1.0, fx.fetches(t, "discarded"))
}

func TestReconciler_EarlierFetchLandingFirstIsAlsoDiscarded(t *testing.T) {
	fx := newFixture(t, "2")
	fx.started(t, waiting())

	fx.r.HandleEvent(event(t, types.EvtPlayerJoined, nil))
	f1 := fx.f.next(t)
	fx.r.HandleEvent(event(t, types.EvtGameStarted, nil))
	f2 := fx.f.next(t)

	f1.answer(waiting())
	fx.l.runOne(t)
	assert.Equal(t, 1, fx.r.View().Version, "superseded result is never applied")

	f2.answer(active())
	fx.l.runOne(t)
	assert.Equal(t, active(), *fx.r.View().State)
}

func TestReconciler_RoomStateAppliesWithoutFetch(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	pushed := active()
	fx.r.HandleEvent(event(t, types.EvtRoomState, pushed))
	fx.f.none(t)

	v := fx.r.View()
	assert.Equal(t, pushed, *v.State)
	assert.True(t, v.IsAdmin)
}

func TestReconciler_SingleRoomStateWinsOverSignals(t *testing.T) {
	// Any mix of signals with exactly one ROOM_STATE ends on that payload,
	// however the outstanding fetches resolve.
	fx := newFixture(t, "1")
	fx.r.Start()
	initial := fx.f.next(t)

	fx.r.HandleEvent(event(t, types.EvtPlayerJoined, nil))
	f1 := fx.f.next(t)
	pushed := active()
	fx.r.HandleEvent(event(t, types.EvtRoomState, pushed))
	fx.r.HandleEvent(event(t, "SOMETHING_NEW", nil))

	initial.answer(waiting())
	f1.answer(waiting())
	fx.l.runOne(t)
	fx.l.runOne(t)

	v := fx.r.View()
	assert.Equal(t, pushed, *v.State)
	assert.Equal(t, 1, v.Version)
}

func TestReconciler_MalformedRoomStateRefetches(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	fx.r.HandleEvent(types.Event{Type: types.EvtRoomState, Data: json.RawMessage(`{"players":"nope"}`)})
	fx.f.next(t).answer(active())
	fx.l.runOne(t)
	assert.Equal(t, active(), *fx.r.View().State)

	fx.r.HandleEvent(types.Event{Type: types.EvtRoomState})
	fx.f.next(t).answer(waiting())
	fx.l.runOne(t)
	assert.Equal(t, waiting(), *fx.r.View().State)
}

func TestReconciler_UnknownEventIsIgnored(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	fx.r.HandleEvent(event(t, "CONFETTI", map[string]int{"amount": 3}))
	fx.f.none(t)
	assert.Equal(t, 1, fx.r.View().Version)
}

func TestReconciler_ResumeRefetches(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	fx.r.Connected(false)
	fx.f.none(t)

	fx.r.Connected(true)
	fx.f.next(t).answer(active())
	fx.l.runOne(t)
	assert.Equal(t, active(), *fx.r.View().State)
}

func TestReconciler_StopDiscardsInFlightFetch(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	fx.r.HandleEvent(event(t, types.EvtNextTurn, nil))
	c := fx.f.next(t)
	fx.r.Stop()
	fx.r.Stop()

	// Stop cancels the fetch context; the completion still posts and is dropped.
	assert.Equal(t, "ABC123", c.code)
	fx.l.runOne(t)

	v := fx.r.View()
	assert.Equal(t, PhaseStopped, v.Phase)
	assert.Equal(t, waiting(), *v.State)

	fx.r.HandleEvent(event(t, types.EvtGameStarted, nil))
	fx.r.Connected(true)
	fx.f.none(t)
}

func TestReconciler_ViewIsACopy(t *testing.T) {
	fx := newFixture(t, "1")
	fx.started(t, waiting())

	v := fx.r.View()
	v.State.Players[0].Name = "Mallory"
	assert.Equal(t, "Amy", fx.r.View().State.Players[0].Name)
}

func (fx *fixture) fetches(t *testing.T, result string) float64 {
	t.Helper()
	mfs, err := fx.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "truthdare_live_fetches_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
