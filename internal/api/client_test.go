package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/DoyleJ11/truthdare-live/internal/reconcile"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ reconcile.Fetcher = (*Client)(nil)

type seen struct {
	method string
	path   string
	query  string
	token  string
	body   map[string]any
}

// fakeAPI mirrors the server's routes and records what it was sent.
type fakeAPI struct {
	mu   sync.Mutex
	reqs []seen
}

func (f *fakeAPI) record(r *http.Request) {
	s := seen{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, token: r.Header.Get(AdminTokenHeader)}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&s.body)
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, s)
	f.mu.Unlock()
}

func (f *fakeAPI) last(t *testing.T) seen {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reqs)
	return f.reqs[len(f.reqs)-1]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	f := &fakeAPI{}
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/rooms", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			writeJSON(w, http.StatusOK, CreateRoomResponse{RoomID: "r-1", RoomCode: "ABC123", AdminToken: "tok", PlayerID: "1"})
		})
		r.Post("/rooms/join", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			if f.last(t).body["roomCode"] != "ABC123" {
				writeJSON(w, http.StatusNotFound, JoinRoomResponse{Message: "Room not found"})
				return
			}
			writeJSON(w, http.StatusOK, JoinRoomResponse{RoomID: "r-1", RoomCode: "ABC123", PlayerID: "2", Success: true})
		})
		r.Get("/rooms/{code}/state", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			if chi.URLParam(r, "code") != "ABC123" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"roomId": "r-1", "roomCode": "ABC123", "gameMode": "TRUTH_ONLY", "status": "ACTIVE",
				"players": []map[string]string{
					{"playerId": "1", "name": "Amy", "role": "ADMIN"},
					{"playerId": "2", "name": "Bo", "role": "PLAYER"},
				},
				"currentPlayer":    map[string]string{"playerId": "2", "name": "Bo", "role": "PLAYER"},
				"currentQuestion":  map[string]any{"questionId": "q-1", "text": "Biggest fear?", "type": "TRUTH", "playerId": "2", "isAdminInjected": true},
				"currentTurnIndex": 1,
			})
		})
		r.Post("/game/{id}/start", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			if r.Header.Get(AdminTokenHeader) != "tok" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		})
		r.Get("/game/{id}/question", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			writeJSON(w, http.StatusOK, map[string]any{"questionId": "q-2", "text": "Dance!", "type": "DARE", "playerId": "1"})
		})
		r.Post("/game/{id}/next-turn", func(w http.ResponseWriter, r *http.Request) { f.record(r) })
		r.Post("/admin/{id}/inject-question", func(w http.ResponseWriter, r *http.Request) {
			f.record(r)
			writeJSON(w, http.StatusOK, map[string]any{"questionId": "q-3", "text": "Sing", "type": "DARE", "playerId": "2", "adminInjected": true})
		})
		r.Put("/admin/{id}/game-mode", func(w http.ResponseWriter, r *http.Request) { f.record(r) })
		r.Post("/admin/{id}/force-next-turn", func(w http.ResponseWriter, r *http.Request) { f.record(r) })
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/", srv.Client()), f
}

func TestClient_CreateRoomDefaultsPlayerName(t *testing.T) {
	c, f := newServer(t)

	got, err := c.CreateRoom(context.Background(), room.ModeTruthAndDare, "  ")
	require.NoError(t, err)
	assert.Equal(t, CreateRoomResponse{RoomID: "r-1", RoomCode: "ABC123", AdminToken: "tok", PlayerID: "1"}, got)

	req := f.last(t)
	assert.Equal(t, "/api/rooms", req.path)
	assert.Equal(t, "TRUTH_AND_DARE", req.body["gameMode"])
	assert.Equal(t, "Admin", req.body["playerName"])
}

func TestClient_JoinRoom(t *testing.T) {
	c, f := newServer(t)

	got, err := c.JoinRoom(context.Background(), "abc123 ", "Bo")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, "2", got.PlayerID)
	assert.Equal(t, "ABC123", f.last(t).body["roomCode"])

	_, err = c.JoinRoom(context.Background(), "NOPE", "Bo")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "Room not found", se.Message)
	assert.Contains(t, se.Error(), "join room: 404 Room not found")
}

func TestClient_GetRoomState(t *testing.T) {
	c, _ := newServer(t)

	s, err := c.GetRoomState(context.Background(), "ABC123")
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.Equal(t, room.StatusActive, s.Status)
	assert.Equal(t, room.ModeTruthOnly, s.GameMode)
	assert.Equal(t, "2", s.CurrentPlayer.ID)
	assert.True(t, s.CurrentQuestion.AdminInjected)
	assert.Equal(t, 1, s.CurrentTurnIndex)
	assert.False(t, s.IsAdmin("2"))

	_, err = c.GetRoomState(context.Background(), "ZZZ999")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get room state: 404 Not Found", se.Error())
}

func TestClient_AdminCallsSendToken(t *testing.T) {
	c, f := newServer(t)
	ctx := context.Background()

	require.NoError(t, c.StartGame(ctx, "r-1", "tok"))
	assert.Equal(t, seen{method: http.MethodPost, path: "/api/game/r-1/start", token: "tok"}, f.last(t))

	q, err := c.InjectQuestion(ctx, "r-1", "tok", InjectQuestion{Text: "Sing", Type: room.QuestionDare})
	require.NoError(t, err)
	assert.True(t, q.AdminInjected)
	req := f.last(t)
	assert.Equal(t, "tok", req.token)
	assert.Equal(t, "Sing", req.body["questionText"])
	assert.Equal(t, "DARE", req.body["questionType"])
	assert.NotContains(t, req.body, "targetPlayerId")

	require.NoError(t, c.ChangeGameMode(ctx, "r-1", "tok", room.ModeDareOnly))
	req = f.last(t)
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "DARE_ONLY", req.body["gameMode"])

	require.NoError(t, c.ForceNextTurn(ctx, "r-1", "tok"))
	assert.Equal(t, "/api/admin/r-1/force-next-turn", f.last(t).path)
}

func TestClient_AdminCallsNeedToken(t *testing.T) {
	c, _ := newServer(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.StartGame(ctx, "r-1", ""), ErrNoAdminToken)
	assert.ErrorIs(t, c.ForceNextTurn(ctx, "r-1", ""), ErrNoAdminToken)
	assert.ErrorIs(t, c.ChangeGameMode(ctx, "r-1", "", room.ModeDareOnly), ErrNoAdminToken)
	_, err := c.InjectQuestion(ctx, "r-1", "", InjectQuestion{Text: "x", Type: room.QuestionTruth})
	assert.ErrorIs(t, err, ErrNoAdminToken)

	err = c.StartGame(ctx, "r-1", "wrong")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestClient_PlayerGameCalls(t *testing.T) {
	c, f := newServer(t)
	ctx := context.Background()

	q, err := c.NextQuestion(ctx, "r-1", room.QuestionDare)
	require.NoError(t, err)
	assert.Equal(t, room.QuestionDare, q.Type)
	assert.Equal(t, "type=DARE", f.last(t).query)

	_, err = c.NextQuestion(ctx, "r-1", "")
	require.NoError(t, err)
	assert.Empty(t, f.last(t).query)

	require.NoError(t, c.NextTurn(ctx, "r-1"))
	req := f.last(t)
	assert.Equal(t, "/api/game/r-1/next-turn", req.path)
	assert.Empty(t, req.token)
}
