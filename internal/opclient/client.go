package opclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"AICallCenter/internal/bus"
)

// ClientState 客户端连接状态
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// EventHandler 事件推送处理器
type EventHandler func(ev bus.Event)

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// ClientConfig 坐席客户端配置
type ClientConfig struct {
	ServerURL         string // http://host:port 形式的服务端基地址
	AgentName         string
	HandshakeTimeout  time.Duration
	RequestTimeout    time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
	UserAgent         string
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(serverURL, agentName string) *ClientConfig {
	return &ClientConfig{
		ServerURL:         serverURL,
		AgentName:         agentName,
		HandshakeTimeout:  10 * time.Second,
		RequestTimeout:    10 * time.Second,
		ReconnectInterval: 2 * time.Second,
		MaxReconnectTries: 10,
		UserAgent:         "AICallCenter-Operator/1.0",
	}
}

// Client 人工坐席客户端：订阅事件推送，调用转接API，支持自动重连
type Client struct {
	config *ClientConfig
	dialer *websocket.Dialer
	http   *http.Client
	conn   *websocket.Conn
	state  atomic.Int32

	// 消息处理
	onEvent       EventHandler
	onStateChange StateChangeHandler

	// 同步控制
	mu            sync.RWMutex
	writeMu       sync.Mutex
	stopChan      chan struct{}
	reconnectChan chan struct{}

	// 重连控制
	reconnectCount atomic.Int32
	reconnects     atomic.Int32

	// readDone 读取循环退出时关闭
	readDone chan struct{}
}

// New 创建新的坐席客户端
func New(config *ClientConfig) *Client {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	client := &Client{
		config:        config,
		dialer:        &dialer,
		http:          &http.Client{Timeout: config.RequestTimeout},
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}

	client.setState(StateDisconnected)
	return client
}

// SetEventHandler 设置事件推送处理器
func (c *Client) SetEventHandler(handler EventHandler) {
	c.onEvent = handler
}

// SetStateChangeHandler 设置状态变化处理器
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.onStateChange = handler
}

// wsURL 从HTTP基地址推导WebSocket地址
func (c *Client) wsURL() string {
	base := c.config.ServerURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws/agent"
}

// Connect 连接到呼叫中心服务端
func (c *Client) Connect(ctx context.Context) error {
	if !c.compareAndSwapState(StateDisconnected, StateConnecting) {
		return errors.New("client is not in disconnected state")
	}

	if err := c.doConnect(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateConnected)

	// 启动后台任务
	c.readDone = make(chan struct{})
	go c.readLoop()
	go c.reconnectLoop()

	return nil
}

// doConnect 执行实际的连接与握手逻辑
func (c *Client) doConnect(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{c.config.UserAgent},
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), headers)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
	}()

	// 服务端在升级后立即下发connected事件，以此确认订阅已生效
	conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	var ev bus.Event
	if err := conn.ReadJSON(&ev); err != nil {
		conn.Close()
		return fmt.Errorf("read connected event failed: %w", err)
	}
	if ev.Kind != bus.KindConnected {
		conn.Close()
		return fmt.Errorf("unexpected first event kind: %s", ev.Kind)
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	log.Printf("Operator %s connected to %s", c.config.AgentName, c.config.ServerURL)
	return nil
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	if !c.compareAndSwapState(StateConnected, StateClosed) &&
		!c.compareAndSwapState(StateReconnecting, StateClosed) &&
		!c.compareAndSwapState(StateDisconnected, StateClosed) {
		return nil // 已经关闭
	}

	close(c.stopChan)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}

	return nil
}

// readLoop 事件读取循环。重连彻底放弃（回到Disconnected）后退出
func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		select {
		case <-c.stopChan:
			return
		default:
			switch c.getState() {
			case StateDisconnected, StateClosed:
				return
			case StateConnecting, StateReconnecting:
				time.Sleep(100 * time.Millisecond)
				continue
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				c.triggerReconnect()
				continue
			}

			var ev bus.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if c.getState() == StateClosed {
					return
				}
				log.Printf("Read event failed: %v", err)
				c.triggerReconnect()
				continue
			}

			if c.onEvent != nil {
				c.onEvent(ev)
			}
		}
	}
}

// reconnectLoop 重连循环
func (c *Client) reconnectLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			c.doReconnect()
		}
	}
}

// triggerReconnect 触发重连
func (c *Client) triggerReconnect() {
	if c.getState() == StateConnected {
		c.setState(StateReconnecting)
		select {
		case c.reconnectChan <- struct{}{}:
		default:
		}
	}
}

// doReconnect 执行重连
func (c *Client) doReconnect() {
	count := c.reconnectCount.Add(1)
	if count > int32(c.config.MaxReconnectTries) {
		log.Printf("Max reconnect tries exceeded, giving up")
		c.setState(StateDisconnected)
		return
	}

	log.Printf("Reconnecting... (attempt %d/%d)", count, c.config.MaxReconnectTries)

	// 关闭旧连接
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	// 指数退避
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.config.ReconnectInterval
	backOff.MaxElapsedTime = time.Duration(c.config.MaxReconnectTries) * c.config.ReconnectInterval

	ctx := context.Background()
	err := backoff.Retry(func() error {
		return c.doConnect(ctx)
	}, backOff)

	if err != nil {
		log.Printf("Reconnect failed: %v", err)
		c.setState(StateDisconnected)
	} else {
		log.Printf("Reconnected successfully")
		c.setState(StateConnected)
		c.reconnectCount.Store(0)
		c.reconnects.Add(1)
	}
}

// getState 获取当前状态
func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// State 当前连接状态
func (c *Client) State() ClientState {
	return c.getState()
}

// setState 设置状态
func (c *Client) setState(newState ClientState) {
	oldState := ClientState(c.state.Swap(int32(newState)))
	if oldState != newState && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
}

// compareAndSwapState 原子性状态切换
func (c *Client) compareAndSwapState(oldState, newState ClientState) bool {
	swapped := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
	return swapped
}

// Reconnects 获取重连成功次数（线程安全）
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

// GetStats 获取客户端统计信息
func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"state":           c.getState().String(),
		"agent_name":      c.config.AgentName,
		"reconnect_count": c.reconnectCount.Load(),
		"reconnects":      c.reconnects.Load(),
	}
}
