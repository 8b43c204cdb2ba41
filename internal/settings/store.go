package settings

import (
	"context"
	"sync"
)

// Store 用户设置存储：默认模型通道与界面语言
//
// 未设置的值返回空字符串，由调用方决定缺省值。
type Store interface {
	DefaultTrack(ctx context.Context, userID int64) (string, error)
	SetDefaultTrack(ctx context.Context, userID int64, track string) error
	Language(ctx context.Context, userID int64) (string, error)
	SetLanguage(ctx context.Context, userID int64, lang string) error
}

// MemoryStore 进程内设置存储
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int64]UserSetting
}

// NewMemoryStore 创建内存设置存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]UserSetting)}
}

func (s *MemoryStore) DefaultTrack(_ context.Context, userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID].DefaultTrack, nil
}

func (s *MemoryStore) SetDefaultTrack(_ context.Context, userID int64, track string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.UserID = userID
	u.DefaultTrack = track
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) Language(_ context.Context, userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID].Language, nil
}

func (s *MemoryStore) SetLanguage(_ context.Context, userID int64, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.UserID = userID
	u.Language = lang
	s.users[userID] = u
	return nil
}
