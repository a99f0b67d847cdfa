package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound 转接记录不存在
	ErrNotFound = errors.New("transfer not found")
	// ErrAlreadyHandled 转接已被其他坐席处理
	ErrAlreadyHandled = errors.New("transfer already handled")
)

// Status 转接请求状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
)

// TransferRequest 一次人工转接请求
type TransferRequest struct {
	ID          string     `json:"id"`
	RoomName    string     `json:"room_name"`
	Reason      string     `json:"reason"`
	Status      Status     `json:"status"`
	AgentName   string     `json:"agent_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// record 账本内部记录，单条记录的状态迁移由自己的锁串行化
type record struct {
	mu  sync.Mutex
	req TransferRequest
}

// snapshot 在持锁状态下复制记录
func (r *record) snapshot() *TransferRequest {
	req := r.req
	return &req
}

// Ledger 转接请求账本。按记录加锁，不同记录的操作互不阻塞。
// 记录在进程生命周期内保留，不做老化清理。
type Ledger struct {
	records sync.Map // map[string]*record

	// 创建顺序索引，ListPending按此顺序返回
	orderMu sync.Mutex
	order   []string
}

// New 创建空账本
func New() *Ledger {
	return &Ledger{}
}

// Create 创建一条新的转接请求，总是成功
func (l *Ledger) Create(roomName, reason string) (*TransferRequest, error) {
	rec := &record{
		req: TransferRequest{
			ID:        fmt.Sprintf("transfer_%s", uuid.New().String()),
			RoomName:  roomName,
			Reason:    reason,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
	}

	l.records.Store(rec.req.ID, rec)

	l.orderMu.Lock()
	l.order = append(l.order, rec.req.ID)
	l.orderMu.Unlock()

	log.Printf("New transfer created: %s (room=%s, reason=%q)",
		rec.req.ID, roomName, reason)

	return rec.snapshot(), nil
}

// Get 查询单条转接记录
func (l *Ledger) Get(transferID string) (*TransferRequest, error) {
	value, ok := l.records.Load(transferID)
	if !ok {
		return nil, ErrNotFound
	}

	rec := value.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), nil
}

// ListPending 按创建顺序返回所有Pending记录的快照
func (l *Ledger) ListPending() []*TransferRequest {
	l.orderMu.Lock()
	ids := make([]string, len(l.order))
	copy(ids, l.order)
	l.orderMu.Unlock()

	pending := make([]*TransferRequest, 0, len(ids))
	for _, id := range ids {
		value, ok := l.records.Load(id)
		if !ok {
			continue
		}

		rec := value.(*record)
		rec.mu.Lock()
		if rec.req.Status == StatusPending {
			pending = append(pending, rec.snapshot())
		}
		rec.mu.Unlock()
	}

	return pending
}

// PendingCount 当前Pending记录数量
func (l *Ledger) PendingCount() int {
	return len(l.ListPending())
}

// Accept 接受转接：Pending→Accepted。并发调用时恰好一个成功，
// 其余返回ErrAlreadyHandled。
func (l *Ledger) Accept(transferID, agentName string) (*TransferRequest, error) {
	value, ok := l.records.Load(transferID)
	if !ok {
		return nil, ErrNotFound
	}

	rec := value.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.req.Status != StatusPending {
		return nil, ErrAlreadyHandled
	}

	now := time.Now()
	rec.req.Status = StatusAccepted
	rec.req.AgentName = agentName
	rec.req.AcceptedAt = &now

	log.Printf("Transfer accepted: %s by %s (room=%s)",
		transferID, agentName, rec.req.RoomName)

	return rec.snapshot(), nil
}

// Complete 完成转接：Accepted→Completed。也允许从Pending直接完成，
// 完成是管理性的终态操作，不依赖是否被接受过。重复完成不改变记录。
func (l *Ledger) Complete(transferID string) (*TransferRequest, error) {
	value, ok := l.records.Load(transferID)
	if !ok {
		return nil, ErrNotFound
	}

	rec := value.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.req.Status != StatusCompleted {
		now := time.Now()
		rec.req.Status = StatusCompleted
		rec.req.CompletedAt = &now
		log.Printf("Transfer completed: %s", transferID)
	}

	return rec.snapshot(), nil
}
