// Package api is a thin client for the room, game and admin REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DoyleJ11/truthdare-live/internal/room"
)

// AdminTokenHeader carries the opaque admin credential returned by CreateRoom.
const AdminTokenHeader = "X-Admin-Token"

var ErrNoAdminToken = errors.New("admin token required")

// StatusError is a non-2xx response. Message is the server's explanation when
// it sent one.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

type CreateRoomResponse struct {
	RoomID     string `json:"roomId"`
	RoomCode   string `json:"roomCode"`
	AdminToken string `json:"adminToken"`
	PlayerID   string `json:"playerId"`
}

type JoinRoomResponse struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
}

// InjectQuestion is an admin-authored question. An empty TargetPlayerID means
// the current player.
type InjectQuestion struct {
	Text           string            `json:"questionText"`
	Type           room.QuestionType `json:"questionType"`
	TargetPlayerID string            `json:"targetPlayerId,omitempty"`
}

type Client struct {
	base string
	http *http.Client
}

// New returns a client rooted at base, for example http://localhost:8080/api.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) CreateRoom(ctx context.Context, mode room.GameMode, playerName string) (CreateRoomResponse, error) {
	if strings.TrimSpace(playerName) == "" {
		playerName = "Admin"
	}
	var out CreateRoomResponse
	err := c.do(ctx, "create room", http.MethodPost, "/rooms", "", map[string]any{
		"gameMode":   mode,
		"playerName": playerName,
	}, &out)
	return out, err
}

func (c *Client) JoinRoom(ctx context.Context, roomCode, playerName string) (JoinRoomResponse, error) {
	code, err := room.NormalizeCode(roomCode)
	if err != nil {
		return JoinRoomResponse{}, err
	}
	var out JoinRoomResponse
	err = c.do(ctx, "join room", http.MethodPost, "/rooms/join", "", map[string]string{
		"roomCode":   code,
		"playerName": playerName,
	}, &out)
	return out, err
}

// GetRoomState is the authoritative fetch used by the reconciler.
func (c *Client) GetRoomState(ctx context.Context, roomCode string) (room.State, error) {
	var out room.State
	err := c.do(ctx, "get room state", http.MethodGet, "/rooms/"+url.PathEscape(roomCode)+"/state", "", nil, &out)
	return out, err
}

func (c *Client) StartGame(ctx context.Context, roomID, adminToken string) error {
	if adminToken == "" {
		return ErrNoAdminToken
	}
	return c.do(ctx, "start game", http.MethodPost, "/game/"+url.PathEscape(roomID)+"/start", adminToken, nil, nil)
}

// NextQuestion draws a question; an empty typ lets the server pick.
func (c *Client) NextQuestion(ctx context.Context, roomID string, typ room.QuestionType) (room.Question, error) {
	path := "/game/" + url.PathEscape(roomID) + "/question"
	if typ != "" {
		path += "?" + url.Values{"type": {string(typ)}}.Encode()
	}
	var out room.Question
	err := c.do(ctx, "next question", http.MethodGet, path, "", nil, &out)
	return out, err
}

func (c *Client) NextTurn(ctx context.Context, roomID string) error {
	return c.do(ctx, "next turn", http.MethodPost, "/game/"+url.PathEscape(roomID)+"/next-turn", "", nil, nil)
}

func (c *Client) InjectQuestion(ctx context.Context, roomID, adminToken string, q InjectQuestion) (room.Question, error) {
	if adminToken == "" {
		return room.Question{}, ErrNoAdminToken
	}
	var out room.Question
	err := c.do(ctx, "inject question", http.MethodPost, "/admin/"+url.PathEscape(roomID)+"/inject-question", adminToken, q, &out)
	return out, err
}

func (c *Client) ChangeGameMode(ctx context.Context, roomID, adminToken string, mode room.GameMode) error {
	if adminToken == "" {
		return ErrNoAdminToken
	}
	return c.do(ctx, "change game mode", http.MethodPut, "/admin/"+url.PathEscape(roomID)+"/game-mode", adminToken,
		map[string]room.GameMode{"gameMode": mode}, nil)
}

func (c *Client) ForceNextTurn(ctx context.Context, roomID, adminToken string) error {
	if adminToken == "" {
		return ErrNoAdminToken
	}
	return c.do(ctx, "force next turn", http.MethodPost, "/admin/"+url.PathEscape(roomID)+"/force-next-turn", adminToken, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, adminToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if adminToken != "" {
		req.Header.Set(AdminTokenHeader, adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Message: serverMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func serverMessage(r io.Reader) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil {
		return ""
	}
	return body.Message
}
