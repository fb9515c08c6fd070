package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/jamsync/internal/engine"
)

// SessionRecord is the archived form of a session snapshot.
type SessionRecord struct {
	ID                    string   `gorm:"primaryKey"`
	JoinCode              string   `gorm:"index"`
	Creator               string   `gorm:"index"`
	Participants          []string `gorm:"serializer:json"`
	HasControlPermissions []string `gorm:"serializer:json"`
	Queue                 []string `gorm:"serializer:json"`
	CurrentSongID         string
	StartedAt             time.Time
	PositionAtStart       float64
	PlaybackState         string
	Ended                 bool
	EndedAt               *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (SessionRecord) TableName() string { return "jam_sessions" }

func NewRecord(s engine.Session, ended bool, at time.Time) SessionRecord {
	rec := SessionRecord{
		ID:                    s.ID,
		JoinCode:              s.JoinCode,
		Creator:               s.Creator,
		Participants:          append([]string(nil), s.Participants...),
		HasControlPermissions: append([]string(nil), s.HasControlPermissions...),
		Queue:                 append([]string(nil), s.Queue...),
		CurrentSongID:         s.CurrentSong.SongID,
		StartedAt:             s.CurrentSong.StartedAt,
		PositionAtStart:       s.CurrentSong.PlaybackPositionAtStart,
		PlaybackState:         string(s.PlaybackState),
		Ended:                 ended,
	}
	if ended {
		rec.EndedAt = &at
	}
	return rec
}

type Writer interface {
	Save(ctx context.Context, rec SessionRecord) error
}

type Reader interface {
	Ended(ctx context.Context, limit int) ([]SessionRecord, error)
}

// Gorm writes records with an upsert on the primary key.
type Gorm struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the archive table.
func Open(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) Save(ctx context.Context, rec SessionRecord) error {
	return g.db.WithContext(ctx).Save(&rec).Error
}

// Ended lists archived sessions that have finished, newest first.
func (g *Gorm) Ended(ctx context.Context, limit int) ([]SessionRecord, error) {
	var recs []SessionRecord
	err := g.db.WithContext(ctx).
		Where("ended = ?", true).
		Order("ended_at desc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
