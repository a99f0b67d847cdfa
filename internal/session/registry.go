package session

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

var (
	// ErrDuplicateSession 房间名已被占用。正确的房间命名下不应出现，
	// 出现时视为该通话的致命错误。
	ErrDuplicateSession = errors.New("session already registered for room")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
)

// Registry 活跃会话注册表，按房间名索引。
// 注册表本身用sync.Map，单个会话的字段由会话自己的锁保护，
// 不同通话之间互不阻塞。
type Registry struct {
	sessions sync.Map // map[string]*Session
	count    atomic.Int32
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 注册会话。房间名已存在时返回ErrDuplicateSession。
func (r *Registry) Register(roomName string, s *Session) error {
	if _, loaded := r.sessions.LoadOrStore(roomName, s); loaded {
		return ErrDuplicateSession
	}

	r.count.Add(1)
	log.Printf("Session registered: %s (room=%s)", s.ID(), roomName)
	return nil
}

// Get 按房间名查找会话
func (r *Registry) Get(roomName string) (*Session, error) {
	value, ok := r.sessions.Load(roomName)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return value.(*Session), nil
}

// Remove 移除会话，幂等：不存在时不报错
func (r *Registry) Remove(roomName string) {
	if _, loaded := r.sessions.LoadAndDelete(roomName); loaded {
		r.count.Add(-1)
		log.Printf("Session removed: room=%s", roomName)
	}
}

// RequestHandoff 置位指定房间会话的交接标志。
// 会话已不存在时（通话可能已结束）静默忽略，返回是否实际发出信号。
func (r *Registry) RequestHandoff(roomName string) bool {
	value, ok := r.sessions.Load(roomName)
	if !ok {
		return false
	}

	value.(*Session).requestHandoff()
	log.Printf("Handoff requested: room=%s", roomName)
	return true
}

// Count 当前活跃会话数
func (r *Registry) Count() int {
	return int(r.count.Load())
}
