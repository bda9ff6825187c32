package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fablecast/server/internal/config"
	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

// sessionRow is the MySQL shape of a stored session: a queryable header
// plus the full snapshot as a JSON text column.
type sessionRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	PlayerID  string    `gorm:"index;size:64"`
	StoryID   string    `gorm:"size:64"`
	Snapshot  string    `gorm:"type:longtext"`
	ExpiresAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

// MySQLRepository is a durable SessionRepository on MySQL via gorm.
// Expiry deadlines live in their own column so reads can exclude dead
// rows without unpacking snapshots.
type MySQLRepository struct {
	db *gorm.DB
}

// NewMySQLRepository connects, tunes the pool and migrates the schema.
func NewMySQLRepository(cfg config.MySQLConfig) (*MySQLRepository, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sessions table: %w", err)
	}

	return &MySQLRepository{db: db}, nil
}

// Put implements interfaces.SessionRepository.
func (r *MySQLRepository) Put(ctx context.Context, s *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}
	row := sessionRow{
		ID:        s.ID,
		PlayerID:  s.PlayerID,
		StoryID:   s.StoryID,
		Snapshot:  string(data),
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.ID, err)
	}
	return nil
}

// Get implements interfaces.SessionRepository. Rows past their deadline
// read as absent even before the sweep removes them.
func (r *MySQLRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, interfaces.ErrNotFound
	}

	var s models.Session
	if err := json.Unmarshal([]byte(row.Snapshot), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

// Delete implements interfaces.SessionRepository.
func (r *MySQLRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&sessionRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// List implements interfaces.SessionRepository.
func (r *MySQLRepository) List(ctx context.Context, playerID string) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&sessionRow{}).Where("expires_at > ?", time.Now())
	if playerID != "" {
		q = q.Where("player_id = ?", playerID)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// DeleteExpired implements interfaces.SessionRepository.
func (r *MySQLRepository) DeleteExpired(ctx context.Context) (int, error) {
	res := r.db.WithContext(ctx).Delete(&sessionRow{}, "expires_at <= ?", time.Now())
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Close releases the connection pool.
func (r *MySQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
