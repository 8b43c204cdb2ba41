package quota

import (
	"context"
	"fmt"
	"sync"
)

// Store 每用户剩余调用额度
//
// Decrement 在额度大于0时扣减一次并返回true；额度为0时返回false且不修改。
// 从未出现过的用户以默认额度开始。
type Store interface {
	Decrement(ctx context.Context, userID int64) (bool, error)
	Get(ctx context.Context, userID int64) (int64, error)
	Set(ctx context.Context, userID int64, amount int64) error
}

// MemoryStore 进程内额度存储
type MemoryStore struct {
	mu       sync.Mutex
	initial  int64
	balances map[int64]int64
}

// NewMemoryStore 创建内存额度存储
func NewMemoryStore(initial int64) *MemoryStore {
	return &MemoryStore{initial: initial, balances: make(map[int64]int64)}
}

func (s *MemoryStore) balance(userID int64) int64 {
	if v, ok := s.balances[userID]; ok {
		return v
	}
	return s.initial
}

func (s *MemoryStore) Decrement(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.balance(userID)
	if v <= 0 {
		s.balances[userID] = 0
		return false, nil
	}
	s.balances[userID] = v - 1
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance(userID), nil
}

func (s *MemoryStore) Set(_ context.Context, userID int64, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("quota amount must be non-negative, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = amount
	return nil
}
