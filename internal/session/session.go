package session

import (
	"sync"
	"time"
)

// Session 一通自动接待中的通话会话状态。
// 由通话处理协程独占写入，协调器只读取/置位handoffRequested。
type Session struct {
	mu sync.Mutex

	sessionID string
	roomName  string

	// handoffRequested 单向标志：一旦置true，AI坐席必须退出本通话
	handoffRequested bool
	// transferInFlight 防止同一会话重复发起转接
	transferInFlight bool

	customerPhone       string
	customerOrderNumber string
	orderSnapshot       map[string]interface{}

	startedAt time.Time
}

// New 创建新会话
func New(sessionID, roomName string) *Session {
	return &Session{
		sessionID: sessionID,
		roomName:  roomName,
		startedAt: time.Now(),
	}
}

// ID 会话标识
func (s *Session) ID() string {
	return s.sessionID
}

// RoomName 通话所在房间名
func (s *Session) RoomName() string {
	return s.roomName
}

// StartedAt 会话开始时间
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// HandoffRequested 是否已要求AI坐席交出通话
func (s *Session) HandoffRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handoffRequested
}

// requestHandoff 置位交接标志，只能从false变true
func (s *Session) requestHandoff() {
	s.mu.Lock()
	s.handoffRequested = true
	s.mu.Unlock()
}

// BeginTransfer 尝试标记转接进行中。已有转接在途时返回false。
func (s *Session) BeginTransfer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferInFlight {
		return false
	}
	s.transferInFlight = true
	return true
}

// AbortTransfer 转接创建失败时回滚在途标志
func (s *Session) AbortTransfer() {
	s.mu.Lock()
	s.transferInFlight = false
	s.mu.Unlock()
}

// TransferInFlight 是否有转接在途
func (s *Session) TransferInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferInFlight
}

// SetCustomerPhone 记录客户来电号码（已归一化）
func (s *Session) SetCustomerPhone(phone string) {
	s.mu.Lock()
	s.customerPhone = phone
	s.mu.Unlock()
}

// CustomerPhone 客户来电号码
func (s *Session) CustomerPhone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customerPhone
}

// SetCustomerOrderNumber 记录客户提供的订单号
func (s *Session) SetCustomerOrderNumber(orderNumber string) {
	s.mu.Lock()
	s.customerOrderNumber = orderNumber
	s.mu.Unlock()
}

// CustomerOrderNumber 客户提供的订单号
func (s *Session) CustomerOrderNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customerOrderNumber
}

// SetOrderSnapshot 缓存查询到的订单数据
func (s *Session) SetOrderSnapshot(order map[string]interface{}) {
	s.mu.Lock()
	s.orderSnapshot = order
	s.mu.Unlock()
}

// OrderSnapshot 已缓存的订单数据，未查询过时为nil
func (s *Session) OrderSnapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderSnapshot
}
