package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"AICallCenter/internal/coordinator"
	"AICallCenter/internal/orders"
	"AICallCenter/internal/session"
)

// DefaultPollInterval 交接标志的轮询间隔。
// 通话处理循环和HTTP接受路径运行在不相关的执行上下文里，
// 秒级轮询满足交接延迟要求。
const DefaultPollInterval = time.Second

// 通过语音引擎播报给客户的话术
const (
	MsgOrderNotFound = "Order not found. Please check your order number or phone number and try again."
	MsgGoodbye       = "Thank you for contacting ShopEase Support. Have a great day!"
)

// Coordinator 通话循环依赖的协调器操作
type Coordinator interface {
	RequestEscalation(ctx context.Context, roomName, reason string) (string, error)
	OperatorJoined(roomName, identity string) bool
}

// Config 通话循环配置
type Config struct {
	PollInterval time.Duration
	// Instructions 引擎使用的话术指令，由LoadInstructions载入
	Instructions string
}

// Runner 一通电话的自动处理循环。注册自己的会话，
// 驱动引擎，轮询交接标志，保证退出时注销会话。
type Runner struct {
	cfg      Config
	roomName string

	registry *session.Registry
	coord    Coordinator
	store    orders.Store
	engine   Engine

	sess *session.Session

	// hangupRequested 客户道别后由EndCall置位
	hangupRequested atomic.Bool
}

// NewRunner 创建通话处理循环
func NewRunner(cfg Config, roomName string, registry *session.Registry, coord Coordinator, store orders.Store, engine Engine) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Runner{
		cfg:      cfg,
		roomName: roomName,
		registry: registry,
		coord:    coord,
		store:    store,
		engine:   engine,
	}
}

// Session 当前会话，Run之前为nil
func (r *Runner) Session() *session.Session {
	return r.sess
}

// Run 处理一通电话直至结束。无论以何种方式退出
// （交接、挂断、取消、错误），会话都会从注册表移除。
func (r *Runner) Run(ctx context.Context) error {
	sessionID := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), r.roomName)
	r.sess = session.New(sessionID, r.roomName)

	if err := r.registry.Register(r.roomName, r.sess); err != nil {
		// 正确的房间命名下不应发生，视为本通话的致命错误
		return fmt.Errorf("register session for room %s failed: %w", r.roomName, err)
	}
	defer r.registry.Remove(r.roomName)

	r.engine.OnParticipantJoined(func(identity string) {
		r.coord.OperatorJoined(r.roomName, identity)
	})

	if err := r.engine.Start(ctx, r.cfg.Instructions); err != nil {
		return fmt.Errorf("start engine failed: %w", err)
	}

	log.Printf("Call started: session=%s room=%s", sessionID, r.roomName)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.teardown(false)
			return ctx.Err()
		case <-ticker.C:
			if r.sess.HandoffRequested() {
				log.Printf("Handoff signaled, AI agent leaving room %s", r.roomName)
				r.teardown(false)
				return nil
			}
			if r.hangupRequested.Load() {
				r.teardown(true)
				return nil
			}
		}
	}
}

// teardown 关闭引擎会话；hangup为true时先结束整通电话
func (r *Runner) teardown(hangup bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if hangup {
		if err := r.engine.Hangup(ctx); err != nil {
			log.Printf("Hangup failed: %v", err)
		}
	}

	if err := r.engine.Close(ctx); err != nil {
		log.Printf("Engine close failed: %v", err)
	}

	log.Printf("Call ended: session=%s room=%s", r.sess.ID(), r.roomName)
}

// GetOrderInfo 工具调用：按订单号或电话号码查询订单。
// 命中时缓存快照并返回JSON文本，未命中时返回播报话术。
func (r *Runner) GetOrderInfo(ctx context.Context, orderNumber, phone string) string {
	if phone != "" {
		r.sess.SetCustomerPhone(orders.NormalizePhone(phone))
	}
	if orderNumber != "" {
		r.sess.SetCustomerOrderNumber(orderNumber)
	}

	log.Printf("Order search: order=%q phone=%q (room=%s)", orderNumber, phone, r.roomName)

	order, err := orders.Search(ctx, r.store, orderNumber, phone)
	if err != nil {
		return MsgOrderNotFound
	}

	r.sess.SetOrderSnapshot(order)

	data, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return MsgOrderNotFound
	}
	return string(data)
}

// TransferToHuman 工具调用：请求升级到人工坐席，返回播报话术
func (r *Runner) TransferToHuman(ctx context.Context, reason string) string {
	msg, err := r.coord.RequestEscalation(ctx, r.roomName, reason)
	if err != nil {
		log.Printf("Transfer to human failed: %v", err)
	}
	return msg
}

// EndCall 工具调用：客户道别后优雅结束通话。
// 话术先返回给引擎播报，挂断在下一个轮询周期执行。
func (r *Runner) EndCall(ctx context.Context) string {
	log.Printf("Ending call: room=%s", r.roomName)
	r.hangupRequested.Store(true)
	return MsgGoodbye
}

var _ Coordinator = (*coordinator.Controller)(nil)
