package httpserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"AICallCenter/internal/bus"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS已在HTTP层放行，面板来源不受限
	},
}

// handleAgentSocket 坐席WebSocket接入。
// 升级后立即推送connected事件，之后把事件总线广播转发给该连接。
// 消费过慢的连接会被总线摘除，随后写端关闭促使读循环退出。
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	obs := s.events.Subscribe()
	log.Printf("Agent connected: %s (online=%d)", r.RemoteAddr, s.events.Count())

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(bus.ConnectedEvent()); err != nil {
		log.Printf("Write connected event failed: %v", err)
		s.events.Unsubscribe(obs)
		conn.Close()
		return
	}

	s.connWg.Add(1)
	go s.agentWriteLoop(conn, obs, r.RemoteAddr)

	// 读循环只为感知断开，坐席面板不上行业务消息
	s.connWg.Add(1)
	go func() {
		defer s.connWg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.events.Unsubscribe(obs)
				return
			}
		}
	}()
}

// agentWriteLoop 把总线事件写入单个坐席连接
func (s *Server) agentWriteLoop(conn *websocket.Conn, obs *bus.Observer, remote string) {
	defer s.connWg.Done()
	defer conn.Close()

	for {
		select {
		case ev, ok := <-obs.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("Agent write failed, dropping %s: %v", remote, err)
				s.events.Unsubscribe(obs)
				return
			}
		case <-obs.Done():
			log.Printf("Agent disconnected: %s (online=%d)", remote, s.events.Count())
			return
		}
	}
}
