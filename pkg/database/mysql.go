package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/music-vote-rooms/pkg/models"
)

// ErrUserNotFound is returned when no account matches.
var ErrUserNotFound = errors.New("user not found")

type MySQLDB struct {
	*gorm.DB
	log *zap.Logger
}

// DSN builds the MySQL connection string.
func DSN(host, port, user, password, dbname string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		user, password, host, port, dbname)
}

func NewMySQLDB(dsn string, debug bool, log *zap.Logger) (*MySQLDB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &MySQLDB{DB: db, log: log}, nil
}

// Migrate brings the schema up to date.
func (db *MySQLDB) Migrate() error {
	db.log.Info("running database migrations")

	if err := db.AutoMigrate(
		&models.User{},
		&models.RoomRecord{},
		&models.PlayedTrack{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (db *MySQLDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// User operations

// UpsertUser creates the account on first login and refreshes the profile on
// later logins. user.ID is set to the stored id.
func (db *MySQLDB) UpsertUser(ctx context.Context, user *models.User) error {
	var existing models.User
	err := db.WithContext(ctx).First(&existing, "spotify_id = ?", user.SpotifyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		return db.WithContext(ctx).Create(user).Error
	}
	if err != nil {
		return err
	}

	existing.DisplayName = user.DisplayName
	existing.ImageURL = user.ImageURL
	existing.Email = user.Email
	if err := db.WithContext(ctx).Save(&existing).Error; err != nil {
		return err
	}
	*user = existing
	return nil
}

func (db *MySQLDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Room archive

func (db *MySQLDB) RoomOpened(ctx context.Context, code, hostUserID string) error {
	return db.WithContext(ctx).Create(&models.RoomRecord{
		ID:       uuid.New(),
		Code:     code,
		HostID:   hostUserID,
		OpenedAt: time.Now().UTC(),
	}).Error
}

// RoomClosed stamps the open record of the room code. Codes are reused over
// time, so only the record without a close time is touched.
func (db *MySQLDB) RoomClosed(ctx context.Context, code, reason string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&models.RoomRecord{}).
		Where("code = ? AND closed_at IS NULL", code).
		Updates(map[string]interface{}{"closed_at": now, "close_reason": reason}).Error
}

func (db *MySQLDB) TrackPlayed(ctx context.Context, code, trackID, trackName, artist string, votes int) error {
	return db.WithContext(ctx).Create(&models.PlayedTrack{
		ID:        uuid.New(),
		RoomCode:  code,
		TrackID:   trackID,
		TrackName: trackName,
		Artist:    artist,
		Votes:     votes,
		PlayedAt:  time.Now().UTC(),
	}).Error
}

// RecentTracks lists the latest tracks played in a room, newest first.
func (db *MySQLDB) RecentTracks(ctx context.Context, code string, limit int) ([]*models.PlayedTrack, error) {
	var items []*models.PlayedTrack
	if err := db.WithContext(ctx).Where("room_code = ?", code).
		Order("played_at DESC").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
