package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"AICallCenter/internal/bus"
	"AICallCenter/internal/coordinator"
	"AICallCenter/internal/ledger"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:            addr,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		AllowedOrigins:  []string{"*"},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Server 呼叫中心HTTP API与坐席WebSocket网关
type Server struct {
	config *ServerConfig
	router *mux.Router
	server *http.Server

	coord  *coordinator.Controller
	events *bus.Bus

	// 连接管理
	connWg    sync.WaitGroup
	isRunning atomic.Bool

	// 统计信息
	requestCount atomic.Int64
	errorCount   atomic.Int64
	startTime    time.Time
}

// NewServer 创建新的API服务器
func NewServer(config *ServerConfig, coord *coordinator.Controller, events *bus.Bus) *Server {
	if config == nil {
		config = DefaultServerConfig(":8000")
	}

	s := &Server{
		config:    config,
		router:    mux.NewRouter(),
		coord:     coord,
		events:    events,
		startTime: time.Now(),
	}

	s.setupRoutes()

	// 设置CORS，坐席面板运行在浏览器里
	c := cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/", s.statusHandler).Methods("GET")
	s.router.HandleFunc("/ws/agent", s.handleAgentSocket)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transfers", s.listTransfersHandler).Methods("GET")
	api.HandleFunc("/accept-transfer", s.acceptTransferHandler).Methods("POST")
	api.HandleFunc("/create-transfer", s.createTransferHandler).Methods("POST")
	api.HandleFunc("/end-transfer/{transfer_id}", s.endTransferHandler).Methods("POST")
}

// loggingMiddleware 请求日志中间件
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.requestCount.Add(1)
		log.Printf("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
	})
}

// statusHandler 服务状态概览
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	summary := s.coord.Summarize()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"message":           "AI Call Center backend running",
		"agents_online":     summary.AgentsOnline,
		"pending_transfers": summary.PendingTransfers,
	})
}

// listTransfersHandler 待接列表，按创建顺序
func (s *Server) listTransfersHandler(w http.ResponseWriter, r *http.Request) {
	pending := s.coord.ListPending()
	if pending == nil {
		pending = []*ledger.TransferRequest{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfers": pending,
		"count":     len(pending),
	})
}

// acceptTransferHandler 人工坐席接受转接。
// 业务失败（记录不存在、已被他人接走）返回200与error字段，
// 便于面板直接展示，不作为服务器错误处理。
func (s *Server) acceptTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransferID string `json:"transfer_id"`
		AgentName  string `json:"agent_name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.TransferID == "" || req.AgentName == "" {
		s.writeError(w, http.StatusBadRequest, "transfer_id and agent_name are required")
		return
	}

	result, err := s.coord.AcceptTransfer(r.Context(), req.TransferID, req.AgentName)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.writeJSON(w, http.StatusOK, map[string]string{"error": "Transfer not found"})
		return
	case errors.Is(err, ledger.ErrAlreadyHandled):
		s.writeJSON(w, http.StatusOK, map[string]string{"error": "Transfer already handled"})
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Accept transfer failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"token":           result.Token,
		"room_name":       result.RoomName,
		"platform_url":    result.PlatformURL,
		"transfer_record": result.Transfer,
	})
}

// createTransferHandler 手工创建转接请求。
// room_name取自查询参数或JSON body，方便curl与面板两种调用方式。
func (s *Server) createTransferHandler(w http.ResponseWriter, r *http.Request) {
	roomName := r.URL.Query().Get("room_name")
	reason := r.URL.Query().Get("reason")

	if roomName == "" {
		var req struct {
			RoomName string `json:"room_name"`
			Reason   string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			roomName = req.RoomName
			if reason == "" {
				reason = req.Reason
			}
		}
	}

	if roomName == "" {
		s.writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}

	transfer, err := s.coord.CreateTransfer(roomName, reason)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Create transfer failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"transfer": transfer,
	})
}

// endTransferHandler 标记转接完成。未知ID也返回成功，
// 结束是幂等操作，面板重复点击不应报错。
func (s *Server) endTransferHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	transferID := vars["transfer_id"]

	if err := s.coord.CompleteTransfer(transferID); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("End transfer failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// writeJSON 写JSON响应
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError 写错误响应
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

// Start 启动服务器
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	log.Printf("Starting call center server on %s", s.config.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// 给服务器足够的时间启动
	time.Sleep(200 * time.Millisecond)

	return nil
}

// Shutdown 关闭服务器，关掉所有坐席连接并等待其goroutine退出
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	log.Printf("Shutting down call center server...")

	s.events.CloseAll()
	s.connWg.Wait()

	return s.server.Shutdown(ctx)
}

// Addr 服务器监听地址
func (s *Server) Addr() string {
	return s.config.Addr
}

// GetStats 获取服务器统计信息
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"total_requests": s.requestCount.Load(),
		"error_count":    s.errorCount.Load(),
		"agents_online":  s.events.Count(),
	}
}
