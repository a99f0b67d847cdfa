package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AICallCenter/internal/bus"
	"AICallCenter/internal/coordinator"
	"AICallCenter/internal/ledger"
	"AICallCenter/internal/orders"
	"AICallCenter/internal/platform"
	"AICallCenter/internal/session"
)

// fakeEngine 测试用引擎桩
type fakeEngine struct {
	mu            sync.Mutex
	started       bool
	closed        bool
	hungup        bool
	startErr      error
	instructions  string
	onParticipant func(identity string)
}

func (e *fakeEngine) Start(ctx context.Context, instructions string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.started = true
	e.instructions = instructions
	return nil
}

func (e *fakeEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Hangup(ctx context.Context) error {
	e.mu.Lock()
	e.hungup = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) OnParticipantJoined(fn func(identity string)) {
	e.onParticipant = fn
}

func (e *fakeEngine) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) isHungup() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hungup
}

func (e *fakeEngine) startedWith() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instructions
}

func newTestStack(t *testing.T) (*session.Registry, *coordinator.Controller, orders.Store) {
	t.Helper()

	registry := session.NewRegistry()
	coord := coordinator.New(registry, ledger.New(), bus.New(),
		platform.NewIssuer(platform.Config{APIKey: "k", APISecret: "s"}))

	dir := t.TempDir()
	path := filepath.Join(dir, "orders.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "ORD-1": {"order_number": "ORD-1", "status": "shipped",
            "customer": {"name": "Priya", "phone": "+91-9876543210"}}
}`), 0644))

	store, err := orders.NewFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return registry, coord, store
}

func fastConfig() Config {
	return Config{PollInterval: 20 * time.Millisecond}
}

// TestRunnerHandoffTeardown 测试交接标志触发拆除并注销会话
func TestRunnerHandoffTeardown(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{}
	r := NewRunner(fastConfig(), "room-42", registry, coord, store, engine)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	// 等会话注册完成
	require.Eventually(t, func() bool {
		_, err := registry.Get("room-42")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	registry.RequestHandoff("room-42")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Runner did not exit after handoff")
	}

	assert.True(t, engine.isClosed())
	assert.False(t, engine.isHungup(), "Handoff must not hang up the customer call")

	// 会话已注销，后续交接信号为静默空操作
	_, err := registry.Get("room-42")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.False(t, registry.RequestHandoff("room-42"))
}

// TestRunnerEndCallHangsUp 测试EndCall结束整通电话
func TestRunnerEndCallHangsUp(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{}
	r := NewRunner(fastConfig(), "room-1", registry, coord, store, engine)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		_, err := registry.Get("room-1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	msg := r.EndCall(context.Background())
	assert.Equal(t, MsgGoodbye, msg)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Runner did not exit after end call")
	}

	assert.True(t, engine.isHungup())
	assert.True(t, engine.isClosed())
	assert.Equal(t, 0, registry.Count())
}

// TestRunnerCancelCleansUp 测试取消时保证清理
func TestRunnerCancelCleansUp(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{}
	r := NewRunner(fastConfig(), "room-2", registry, coord, store, engine)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := registry.Get("room-2")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Runner did not exit after cancel")
	}

	assert.True(t, engine.isClosed())
	assert.Equal(t, 0, registry.Count())
}

// TestRunnerEngineStartFailureCleansUp 测试引擎启动失败时也注销会话
func TestRunnerEngineStartFailureCleansUp(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{startErr: errors.New("media runtime unavailable")}
	r := NewRunner(fastConfig(), "room-3", registry, coord, store, engine)

	err := r.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, registry.Count(), "Session must be removed even on error paths")
}

// TestRunnerDuplicateRoomFatal 测试房间名冲突为致命错误
func TestRunnerDuplicateRoomFatal(t *testing.T) {
	registry, coord, store := newTestStack(t)

	require.NoError(t, registry.Register("room-4", session.New("other", "room-4")))

	engine := &fakeEngine{}
	r := NewRunner(fastConfig(), "room-4", registry, coord, store, engine)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, session.ErrDuplicateSession)

	// 原会话不受影响
	got, err := registry.Get("room-4")
	require.NoError(t, err)
	assert.Equal(t, "other", got.ID())
}

// TestOperatorJoinedCallbackTriggersHandoff 测试坐席入房回调触发交接
func TestOperatorJoinedCallbackTriggersHandoff(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{}
	r := NewRunner(fastConfig(), "room-5", registry, coord, store, engine)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, engine.isStarted, time.Second, 10*time.Millisecond)

	// 引擎上报人工坐席进入房间
	engine.onParticipant("agent_alice")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Runner did not exit after operator joined")
	}
	assert.True(t, engine.isClosed())
}

// TestGetOrderInfo 测试订单查询工具
func TestGetOrderInfo(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{}
	r := NewRunner(fastConfig(), "room-6", registry, coord, store, engine)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	defer func() {
		r.EndCall(context.Background())
		<-done
	}()

	require.Eventually(t, func() bool {
		_, err := registry.Get("room-6")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	ctx := context.Background()

	// 按电话查询，号码被归一化后存入会话
	reply := r.GetOrderInfo(ctx, "", "+91 98765 43210")
	var order map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(reply), &order))
	assert.Equal(t, "ORD-1", order["order_number"])

	sess := r.Session()
	assert.Equal(t, "9876543210", sess.CustomerPhone())
	assert.NotNil(t, sess.OrderSnapshot())

	// 未命中时返回播报话术
	reply = r.GetOrderInfo(ctx, "ORD-404", "")
	assert.Equal(t, MsgOrderNotFound, reply)
	assert.Equal(t, "ORD-404", sess.CustomerOrderNumber())
}

// TestTransferToHumanTool 测试人工转接工具的话术
func TestTransferToHumanTool(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{}
	r := NewRunner(fastConfig(), "room-7", registry, coord, store, engine)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	defer func() {
		r.EndCall(context.Background())
		<-done
	}()

	require.Eventually(t, func() bool {
		_, err := registry.Get("room-7")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	ctx := context.Background()

	msg := r.TransferToHuman(ctx, "angry customer")
	assert.Equal(t, coordinator.MsgTransferStarted, msg)

	// 转接在途时幂等
	msg = r.TransferToHuman(ctx, "again")
	assert.Equal(t, coordinator.MsgTransferInProgress, msg)
}

// TestRunnerPassesInstructionsToEngine 测试载入的话术指令传递给引擎
func TestRunnerPassesInstructionsToEngine(t *testing.T) {
	registry, coord, store := newTestStack(t)
	engine := &fakeEngine{}

	cfg := fastConfig()
	cfg.Instructions = "You are a support agent for ShopEase."
	r := NewRunner(cfg, "room-8", registry, coord, store, engine)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, engine.isStarted, time.Second, 10*time.Millisecond)
	assert.Equal(t, cfg.Instructions, engine.startedWith())

	r.EndCall(context.Background())
	<-done
}

// TestLoadInstructions 测试话术指令文件载入
func TestLoadInstructions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent_instructions.yml")

	require.NoError(t, os.WriteFile(path, []byte(
		"instructions: |\n  You are a support agent for ShopEase.\n"), 0644))

	got, err := LoadInstructions(path)
	require.NoError(t, err)
	assert.Equal(t, "You are a support agent for ShopEase.", got)
}

// TestLoadInstructionsMissingKey 测试instructions键缺失
func TestLoadInstructionsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent_instructions.yml")
	require.NoError(t, os.WriteFile(path, []byte("greeting: hello\n"), 0644))

	_, err := LoadInstructions(path)
	assert.Error(t, err)
}

// TestLoadInstructionsMissingFile 测试文件缺失
func TestLoadInstructionsMissingFile(t *testing.T) {
	_, err := LoadInstructions(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
