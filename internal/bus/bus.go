package bus

import (
	"log"
	"sync"
	"sync/atomic"

	"AICallCenter/internal/ledger"
)

// 推送给坐席端的事件类型
const (
	KindConnected        = "connected"
	KindIncomingTransfer = "incoming_call"
	KindTransferAccepted = "transfer_accepted"
)

// Event 推送给坐席端的结构化事件
type Event struct {
	Kind       string                  `json:"kind"`
	Message    string                  `json:"message,omitempty"`
	Transfer   *ledger.TransferRequest `json:"transfer,omitempty"`
	TransferID string                  `json:"transfer_id,omitempty"`
}

// ConnectedEvent 连接确认事件，坐席接入时立即下发
func ConnectedEvent() Event {
	return Event{Kind: KindConnected, Message: "Connected to call center"}
}

// IncomingTransferEvent 新转接到达事件
func IncomingTransferEvent(req *ledger.TransferRequest) Event {
	return Event{Kind: KindIncomingTransfer, Transfer: req}
}

// TransferAcceptedEvent 转接被接受事件，落选的坐席据此得知名额已被占用
func TransferAcceptedEvent(transferID string) Event {
	return Event{Kind: KindTransferAccepted, TransferID: transferID}
}

// observerBuffer 每个观察者的事件缓冲长度。缓冲打满说明对端长期不消费，
// 按失败处理并移除。
const observerBuffer = 16

// Observer 一个已接入的坐席客户端观察者句柄
type Observer struct {
	id        uint64
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events 出站事件通道，按Broadcast调用顺序投递
func (o *Observer) Events() <-chan Event {
	return o.events
}

// Done 观察者被移除后关闭
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// close 安全关闭done信号。events通道不关闭，避免与并发Broadcast竞争。
func (o *Observer) close() {
	o.closeOnce.Do(func() {
		close(o.done)
	})
}

// Bus 坐席通知总线。Broadcast对每个观察者都是非阻塞的：
// 缓冲已满的观察者被移除，不会拖慢其他观察者或调用方。
type Bus struct {
	observers sync.Map // map[uint64]*Observer
	nextID    atomic.Uint64
	count     atomic.Int32
}

// New 创建通知总线
func New() *Bus {
	return &Bus{}
}

// Subscribe 注册新观察者
func (b *Bus) Subscribe() *Observer {
	obs := &Observer{
		id:     b.nextID.Add(1),
		events: make(chan Event, observerBuffer),
		done:   make(chan struct{}),
	}

	b.observers.Store(obs.id, obs)
	b.count.Add(1)
	log.Printf("Agent observer connected. Total: %d", b.count.Load())

	return obs
}

// Unsubscribe 移除观察者，幂等
func (b *Bus) Unsubscribe(obs *Observer) {
	if obs == nil {
		return
	}

	if _, loaded := b.observers.LoadAndDelete(obs.id); loaded {
		b.count.Add(-1)
		log.Printf("Agent observer disconnected. Total: %d", b.count.Load())
	}
	obs.close()
}

// Broadcast 向所有观察者推送事件。永不失败；没有观察者时为空操作。
// 推送失败（缓冲满）的观察者被移除，单个坏连接不影响其余分发。
func (b *Bus) Broadcast(ev Event) {
	var failed []*Observer

	b.observers.Range(func(key, value interface{}) bool {
		obs := value.(*Observer)

		select {
		case obs.events <- ev:
		default:
			failed = append(failed, obs)
		}
		return true
	})

	// Range结束后再移除，避免遍历过程中修改map
	for _, obs := range failed {
		log.Printf("Broadcast to observer %d failed: buffer full, removing", obs.id)
		b.Unsubscribe(obs)
	}
}

// Count 当前在线观察者数量
func (b *Bus) Count() int {
	return int(b.count.Load())
}

// CloseAll 移除全部观察者，服务停机时调用
func (b *Bus) CloseAll() {
	b.observers.Range(func(key, value interface{}) bool {
		b.Unsubscribe(value.(*Observer))
		return true
	})
}
