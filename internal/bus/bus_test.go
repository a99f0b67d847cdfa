package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AICallCenter/internal/ledger"
)

// TestBroadcastNoObservers 测试没有观察者时广播为空操作
func TestBroadcastNoObservers(t *testing.T) {
	b := New()

	// 不应panic也不应阻塞
	b.Broadcast(TransferAcceptedEvent("transfer_1"))
	assert.Equal(t, 0, b.Count())
}

// TestBroadcastReachesAllObservers 测试广播覆盖所有观察者
func TestBroadcastReachesAllObservers(t *testing.T) {
	b := New()

	obs1 := b.Subscribe()
	obs2 := b.Subscribe()
	assert.Equal(t, 2, b.Count())

	req, err := ledger.New().Create("room-1", "test")
	require.NoError(t, err)
	b.Broadcast(IncomingTransferEvent(req))

	for _, obs := range []*Observer{obs1, obs2} {
		select {
		case ev := <-obs.Events():
			assert.Equal(t, KindIncomingTransfer, ev.Kind)
			require.NotNil(t, ev.Transfer)
			assert.Equal(t, req.ID, ev.Transfer.ID)
		case <-time.After(time.Second):
			t.Fatal("Observer did not receive broadcast")
		}
	}
}

// TestPerObserverDeliveryOrder 测试单个观察者按广播顺序收到事件
func TestPerObserverDeliveryOrder(t *testing.T) {
	b := New()
	obs := b.Subscribe()

	const n = 10
	for i := 0; i < n; i++ {
		b.Broadcast(TransferAcceptedEvent(fmt.Sprintf("transfer_%d", i)))
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-obs.Events():
			assert.Equal(t, fmt.Sprintf("transfer_%d", i), ev.TransferID)
		case <-time.After(time.Second):
			t.Fatalf("Missing event %d", i)
		}
	}
}

// TestSlowObserverRemoved 测试缓冲打满的观察者被移除且不影响其他观察者
func TestSlowObserverRemoved(t *testing.T) {
	b := New()

	slow := b.Subscribe()
	healthy := b.Subscribe()

	// 打满slow的缓冲，healthy同步消费
	for i := 0; i < observerBuffer+1; i++ {
		b.Broadcast(TransferAcceptedEvent(fmt.Sprintf("transfer_%d", i)))
		select {
		case <-healthy.Events():
		case <-time.After(time.Second):
			t.Fatal("Healthy observer starved by slow observer")
		}
	}

	// 溢出那次广播应已将slow移除
	assert.Equal(t, 1, b.Count())
	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("Slow observer was not closed")
	}

	// 后续广播healthy照常接收
	b.Broadcast(TransferAcceptedEvent("transfer_final"))
	select {
	case ev := <-healthy.Events():
		assert.Equal(t, "transfer_final", ev.TransferID)
	case <-time.After(time.Second):
		t.Fatal("Healthy observer did not receive event after removal of slow one")
	}
}

// TestUnsubscribeIdempotent 测试取消订阅幂等
func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()

	obs := b.Subscribe()
	b.Unsubscribe(obs)
	b.Unsubscribe(obs)
	b.Unsubscribe(nil)

	assert.Equal(t, 0, b.Count())

	select {
	case <-obs.Done():
	default:
		t.Fatal("Done channel should be closed after unsubscribe")
	}
}

// TestCloseAll 测试停机时移除全部观察者
func TestCloseAll(t *testing.T) {
	b := New()

	observers := make([]*Observer, 5)
	for i := range observers {
		observers[i] = b.Subscribe()
	}

	b.CloseAll()
	assert.Equal(t, 0, b.Count())

	for _, obs := range observers {
		select {
		case <-obs.Done():
		case <-time.After(time.Second):
			t.Fatal("Observer not closed by CloseAll")
		}
	}
}

// TestConnectedEventShape 测试连接确认事件内容
func TestConnectedEventShape(t *testing.T) {
	ev := ConnectedEvent()
	assert.Equal(t, KindConnected, ev.Kind)
	assert.Equal(t, "Connected to call center", ev.Message)
	assert.Nil(t, ev.Transfer)
}
