package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/router"
)

// ModelResolver 解析通道对应的模型ID
type ModelResolver interface {
	Resolve(kind router.Kind) (string, error)
}

// DefaultToggler 切换用户默认通道
type DefaultToggler interface {
	Toggle(ctx context.Context, userID int64) (router.Kind, error)
}

// userEntry 单个用户的会话槽位，sem 作为可取消的互斥锁
type userEntry struct {
	sem   chan struct{}
	convs map[router.Kind]*Conversation
	// refs 持有或等待锁的请求数，受 Store.mu 保护
	refs int
}

// Store 用户到会话的映射
//
// 全局互斥锁只保护映射本身，持有时间极短；每个用户有独立的锁，
// 在一次完整的问答期间持有，不同用户之间不会互相阻塞。
// 没有会话且没有请求持有或等待锁的用户槽位会被回收。
type Store struct {
	mu       sync.Mutex
	users    map[int64]*userEntry
	maxTurns int
	models   ModelResolver
	defaults DefaultToggler
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore 创建会话存储
func NewStore(maxTurns int, models ModelResolver, defaults DefaultToggler, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		users:    make(map[int64]*userEntry),
		maxTurns: maxTurns,
		models:   models,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Store) entry(userID int64) *userEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		e = &userEntry{
			sem:   make(chan struct{}, 1),
			convs: make(map[router.Kind]*Conversation),
		}
		s.users[userID] = e
	}
	e.refs++
	return e
}

// unref 归还 entry 的引用，最后一个引用释放且没有会话时回收槽位
func (s *Store) unref(userID int64, e *userEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && len(e.convs) == 0 && s.users[userID] == e {
		delete(s.users, userID)
	}
}

// Acquire 获取用户独占锁，直到 Release 前其他请求等待
func (s *Store) Acquire(ctx context.Context, userID int64) (*Session, error) {
	e := s.entry(userID)
	select {
	case e.sem <- struct{}{}:
		return &Session{store: s, userID: userID, entry: e}, nil
	case <-ctx.Done():
		s.unref(userID, e)
		return nil, fmt.Errorf("acquire session lock for user %d: %w", userID, ctx.Err())
	}
}

// Clear 删除用户所有通道的会话，对空用户是无操作
func (s *Store) Clear(ctx context.Context, userID int64) error {
	sess, err := s.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer sess.Release()
	sess.Clear()
	return nil
}

// SwitchTrack 切换用户默认通道并返回新值，不删除历史
func (s *Store) SwitchTrack(ctx context.Context, userID int64) (router.Kind, error) {
	kind, err := s.defaults.Toggle(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("switch track for user %d: %w", userID, err)
	}
	s.logger.Info("默认通道已切换", zap.Int64("user_id", userID), zap.String("track", string(kind)))
	return kind, nil
}

// Session 持有用户锁期间的会话访问句柄
type Session struct {
	store   *Store
	userID  int64
	entry   *userEntry
	release sync.Once
}

// UserID 返回会话所属用户
func (s *Session) UserID() int64 {
	return s.userID
}

// GetOrCreate 返回用户在该通道上的会话，不存在时创建空会话
func (s *Session) GetOrCreate(track router.Kind) (*Conversation, error) {
	if conv, ok := s.entry.convs[track]; ok {
		return conv, nil
	}
	model, err := s.store.models.Resolve(track)
	if err != nil {
		return nil, err
	}
	conv := newConversation(s.userID, track, model, s.store.maxTurns, s.store.now)
	s.entry.convs[track] = conv
	s.store.logger.Debug("创建新会话",
		zap.Int64("user_id", s.userID),
		zap.String("track", string(track)),
		zap.String("model", model),
	)
	return conv, nil
}

// Clear 删除该用户的全部会话
func (s *Session) Clear() {
	for track := range s.entry.convs {
		delete(s.entry.convs, track)
	}
}

// Release 释放用户锁，可重复调用
func (s *Session) Release() {
	s.release.Do(func() {
		<-s.entry.sem
		s.store.unref(s.userID, s.entry)
	})
}
