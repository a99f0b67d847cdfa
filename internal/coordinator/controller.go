package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"AICallCenter/internal/bus"
	"AICallCenter/internal/ledger"
	"AICallCenter/internal/session"
)

// DefaultTransferReason 未提供转接原因时的默认值
const DefaultTransferReason = "Customer request"

// OperatorIdentityPrefix 人工坐席进入房间时使用的身份前缀
const OperatorIdentityPrefix = "agent_"

// 通过语音引擎播报给客户的话术
const (
	MsgTransferStarted    = "I'm transferring you to our support specialist now. Please hold for just a moment while they join the call..."
	MsgTransferInProgress = "Transfer already in progress."
	MsgTransferFailed     = "I apologize for the trouble. Let me try to help you directly instead."
)

// TransferLedger 协调器依赖的账本操作
type TransferLedger interface {
	Create(roomName, reason string) (*ledger.TransferRequest, error)
	ListPending() []*ledger.TransferRequest
	Accept(transferID, agentName string) (*ledger.TransferRequest, error)
	Complete(transferID string) (*ledger.TransferRequest, error)
}

// TokenIssuer 为获胜坐席签发房间访问凭证
type TokenIssuer interface {
	MintRoomToken(identity, name, room string) (string, error)
	URL() string
}

// AcceptResult 转接接受成功后的结果
type AcceptResult struct {
	Token       string
	RoomName    string
	PlatformURL string
	Transfer    *ledger.TransferRequest
}

// Summary 首页状态摘要
type Summary struct {
	AgentsOnline     int
	PendingTransfers int
}

// Controller 转接与交接协调器。串起会话注册表、转接账本、
// 通知总线和令牌签发这几个协作方，自身不持有额外状态。
type Controller struct {
	registry *session.Registry
	ledger   TransferLedger
	bus      *bus.Bus
	tokens   TokenIssuer
}

// New 创建协调器
func New(registry *session.Registry, l TransferLedger, b *bus.Bus, tokens TokenIssuer) *Controller {
	return &Controller{
		registry: registry,
		ledger:   l,
		bus:      b,
		tokens:   tokens,
	}
}

// CreateTransfer 创建转接请求并向所有坐席端广播。
// 不经过会话的在途保护，供HTTP接口对任意房间发起转接使用
// （对应的会话可能已经结束）。
func (c *Controller) CreateTransfer(roomName, reason string) (*ledger.TransferRequest, error) {
	if reason == "" {
		reason = DefaultTransferReason
	}

	rec, err := c.ledger.Create(roomName, reason)
	if err != nil {
		return nil, fmt.Errorf("create transfer failed: %w", err)
	}

	c.bus.Broadcast(bus.IncomingTransferEvent(rec))
	return rec, nil
}

// RequestEscalation 由通话中的AI坐席发起人工升级。
// 返回应当播报给客户的话术。同一会话已有转接在途时幂等返回，
// 不产生新的账本记录；创建失败时回滚在途标志并返回兜底话术。
func (c *Controller) RequestEscalation(ctx context.Context, roomName, reason string) (string, error) {
	sess, err := c.registry.Get(roomName)
	if err != nil {
		return MsgTransferFailed, fmt.Errorf("escalation for unknown session %s: %w", roomName, err)
	}

	if !sess.BeginTransfer() {
		return MsgTransferInProgress, nil
	}

	rec, err := c.CreateTransfer(roomName, reason)
	if err != nil {
		sess.AbortTransfer()
		log.Printf("Escalation failed for room %s: %v", roomName, err)
		return MsgTransferFailed, err
	}

	log.Printf("Escalation requested: %s (room=%s)", rec.ID, roomName)
	return MsgTransferStarted, nil
}

// AcceptTransfer 坐席接受转接。账本裁决唯一赢家；成功后置位会话的
// 交接标志、签发房间令牌并广播接受事件（落选者据此得知名额已被占用）。
func (c *Controller) AcceptTransfer(ctx context.Context, transferID, agentName string) (*AcceptResult, error) {
	rec, err := c.ledger.Accept(transferID, agentName)
	if err != nil {
		return nil, err
	}

	// 会话可能已经结束，交接信号是静默空操作
	c.registry.RequestHandoff(rec.RoomName)

	identity := OperatorIdentityPrefix + agentName
	token, err := c.tokens.MintRoomToken(identity, agentName, rec.RoomName)
	if err != nil {
		return nil, fmt.Errorf("issue room token failed: %w", err)
	}

	c.bus.Broadcast(bus.TransferAcceptedEvent(rec.ID))

	return &AcceptResult{
		Token:       token,
		RoomName:    rec.RoomName,
		PlatformURL: c.tokens.URL(),
		Transfer:    rec,
	}, nil
}

// CompleteTransfer 标记转接完成。未知ID按空操作处理，不报错。
func (c *Controller) CompleteTransfer(transferID string) error {
	_, err := c.ledger.Complete(transferID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	return err
}

// ListPending 当前待处理的转接请求
func (c *Controller) ListPending() []*ledger.TransferRequest {
	return c.ledger.ListPending()
}

// OperatorJoined 媒体房间有参与者进入时由引擎回调。
// 身份带坐席前缀时无条件触发该房间的交接，这是权威信号，
// 不依赖账本状态。返回是否触发了交接。
func (c *Controller) OperatorJoined(roomName, identity string) bool {
	if !strings.HasPrefix(identity, OperatorIdentityPrefix) {
		return false
	}

	log.Printf("Human agent joined room %s: %s", roomName, identity)
	c.registry.RequestHandoff(roomName)
	return true
}

// Summarize 首页状态摘要
func (c *Controller) Summarize() Summary {
	return Summary{
		AgentsOnline:     c.bus.Count(),
		PendingTransfers: len(c.ledger.ListPending()),
	}
}
