package session

import (
	"sync"
	"time"

	"github.com/aihub/gemini-bot/internal/router"
)

// Role 对话角色
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn 一条带角色的消息
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation 一个用户在一个通道上的对话，保留最近 maxTurns 条消息
type Conversation struct {
	UserID int64
	Track  router.Kind
	Model  string

	mu       sync.Mutex
	maxTurns int
	turns    []Turn
	now      func() time.Time
}

func newConversation(userID int64, track router.Kind, model string, maxTurns int, now func() time.Time) *Conversation {
	return &Conversation{
		UserID:   userID,
		Track:    track,
		Model:    model,
		maxTurns: maxTurns,
		now:      now,
	}
}

// Append 追加一条消息，超出上限时从头部裁剪
func (c *Conversation) Append(role Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: role, Text: text, CreatedAt: c.now()})
	c.turns = prune(c.turns, c.maxTurns)
}

// Context 按时间顺序返回历史消息的独立副本
func (c *Conversation) Context() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len 当前保留的消息数
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// prune 裁剪到最多 max 条
//
// max 为偶数且头部是完整的一问一答时成对丢弃，否则逐条丢弃。
func prune(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	drop := 0
	for len(turns)-drop > max {
		head := turns[drop:]
		if max%2 == 0 && len(head) >= 2 && head[0].Role == RoleUser && head[1].Role == RoleModel {
			drop += 2
		} else {
			drop++
		}
	}
	// 复制到新切片，避免底层数组无限增长
	kept := make([]Turn, len(turns)-drop, max+1)
	copy(kept, turns[drop:])
	return kept
}
