// Package journal stores every room state a session observed, for replaying
// how a game unfolded.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/reconcile"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNoState = errors.New("view has no room state")

type Entry struct {
	ID              uint   `gorm:"primaryKey"`
	SessionID       string `gorm:"size:36;index"`
	RoomCode        string `gorm:"size:16;index:idx_room_recorded,priority:1"`
	PlayerID        string `gorm:"size:64"`
	Version         int
	Status          string `gorm:"size:16"`
	GameMode        string `gorm:"size:32"`
	Players         int
	CurrentPlayerID string `gorm:"size:64"`
	QuestionType    string `gorm:"size:8"`
	QuestionText    string
	IsAdmin         bool
	Snapshot        string    `gorm:"type:jsonb"`
	RecordedAt      time.Time `gorm:"index:idx_room_recorded,priority:2"`
}

func (Entry) TableName() string { return "room_snapshots" }

// NewEntry flattens a ready view into a row.
func NewEntry(sessionID string, v reconcile.View, at time.Time) (Entry, error) {
	if v.State == nil {
		return Entry{}, ErrNoState
	}
	s := v.State
	raw, err := json.Marshal(s)
	if err != nil {
		return Entry{}, fmt.Errorf("encode snapshot: %w", err)
	}
	e := Entry{
		SessionID:  sessionID,
		RoomCode:   s.Code,
		PlayerID:   v.PlayerID,
		Version:    v.Version,
		Status:     string(s.Status),
		GameMode:   string(s.GameMode),
		Players:    len(s.Players),
		IsAdmin:    v.IsAdmin,
		Snapshot:   string(raw),
		RecordedAt: at.UTC(),
	}
	if s.CurrentPlayer != nil {
		e.CurrentPlayerID = s.CurrentPlayer.ID
	}
	if q := s.CurrentQuestion; q != nil {
		e.QuestionType = string(q.Type)
		e.QuestionText = q.Text
	}
	return e, nil
}

type Journal struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to Postgres and migrates the snapshot table.
func Open(dsn string, log *zap.Logger) (*Journal, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db, log)
}

func New(db *gorm.DB, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	if err := j.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	j.log.Debug("journaled snapshot",
		zap.String("room", e.RoomCode),
		zap.Int("version", e.Version),
		zap.String("status", e.Status),
	)
	return nil
}

// History returns up to limit entries for roomCode, oldest first.
func (j *Journal) History(ctx context.Context, roomCode string, limit int) ([]Entry, error) {
	var out []Entry
	q := j.db.WithContext(ctx).Where("room_code = ?", roomCode).Order("recorded_at asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return out, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
