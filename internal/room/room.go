package room

import (
	"errors"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrUnknownCurrentPlayer = errors.New("current player is not in the room")
var ErrUnknownQuestionTarget = errors.New("question target is not in the room")
var ErrEmptyCode = errors.New("empty room code")

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RolePlayer Role = "PLAYER"
)

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
)

type GameMode string

const (
	ModeTruthOnly    GameMode = "TRUTH_ONLY"
	ModeDareOnly     GameMode = "DARE_ONLY"
	ModeTruthAndDare GameMode = "TRUTH_AND_DARE"
)

type QuestionType string

const (
	QuestionTruth QuestionType = "TRUTH"
	QuestionDare  QuestionType = "DARE"
)

type Player struct {
	ID   string `json:"playerId"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// State is the authoritative room snapshot, as served by GET /rooms/{code}/state
// and pushed inside ROOM_STATE events.
type State struct {
	RoomID           string    `json:"roomId"`
	Code             string    `json:"roomCode"`
	GameMode         GameMode  `json:"gameMode"`
	Status           Status    `json:"status"`
	Players          []Player  `json:"players"`
	CurrentPlayer    *Player   `json:"currentPlayer,omitempty"`
	CurrentQuestion  *Question `json:"currentQuestion,omitempty"`
	CurrentTurnIndex int       `json:"currentTurnIndex"`
}

// Validate checks that every player reference resolves against Players.
func (s State) Validate() error {
	if s.CurrentPlayer != nil {
		if _, ok := s.Player(s.CurrentPlayer.ID); !ok {
			return ErrUnknownCurrentPlayer
		}
	}
	if q := s.CurrentQuestion; q != nil && q.PlayerID != "" {
		if _, ok := s.Player(q.PlayerID); !ok {
			return ErrUnknownQuestionTarget
		}
	}
	return nil
}

func (s State) Player(id string) (Player, bool) {
	i := slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
	if i < 0 {
		return Player{}, false
	}
	return s.Players[i], true
}

// IsAdmin reports whether playerID holds the admin role in this snapshot.
func (s State) IsAdmin(playerID string) bool {
	p, ok := s.Player(playerID)
	return ok && p.Role == RoleAdmin
}

// Clone returns a deep copy so readers never share slices with the owner.
func (s State) Clone() State {
	c := s
	c.Players = slices.Clone(s.Players)
	if s.CurrentPlayer != nil {
		p := *s.CurrentPlayer
		c.CurrentPlayer = &p
	}
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		c.CurrentQuestion = &q
	}
	return c
}

var upper = cases.Upper(language.Und)

// NormalizeCode trims and upper-cases a room code the way the server stores it.
func NormalizeCode(code string) (string, error) {
	code = upper.String(strings.TrimSpace(code))
	if code == "" {
		return "", ErrEmptyCode
	}
	return code, nil
}

// Topic is the general event destination for a room.
func Topic(code string) string { return "/topic/room/" + code }

// AdminTopic only carries events for the room admin.
func AdminTopic(code string) string { return Topic(code) + "/admin" }
