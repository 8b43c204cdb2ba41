package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserSetting 用户设置表
type UserSetting struct {
	UserID       int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	DefaultTrack string    `gorm:"column:default_track;size:16" json:"default_track"`
	Language     string    `gorm:"column:language;size:8" json:"language"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (UserSetting) TableName() string {
	return "user_settings"
}

// GormStore 基于gorm的设置存储
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建gorm设置存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// load 读取用户设置，不存在时返回零值
func (s *GormStore) load(ctx context.Context, userID int64) (UserSetting, error) {
	var row UserSetting
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserSetting{}, nil
	}
	if err != nil {
		return UserSetting{}, fmt.Errorf("load settings for user %d: %w", userID, err)
	}
	return row, nil
}

// upsert 写入单列，其余列保持不变
func (s *GormStore) upsert(ctx context.Context, row UserSetting, column string) error {
	row.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s for user %d: %w", column, row.UserID, err)
	}
	return nil
}

func (s *GormStore) DefaultTrack(ctx context.Context, userID int64) (string, error) {
	row, err := s.load(ctx, userID)
	return row.DefaultTrack, err
}

func (s *GormStore) SetDefaultTrack(ctx context.Context, userID int64, track string) error {
	return s.upsert(ctx, UserSetting{UserID: userID, DefaultTrack: track}, "default_track")
}

func (s *GormStore) Language(ctx context.Context, userID int64) (string, error) {
	row, err := s.load(ctx, userID)
	return row.Language, err
}

func (s *GormStore) SetLanguage(ctx context.Context, userID int64, lang string) error {
	return s.upsert(ctx, UserSetting{UserID: userID, Language: lang}, "language")
}
