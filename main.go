package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AICallCenter/internal/agent"
	"AICallCenter/internal/bus"
	"AICallCenter/internal/config"
	"AICallCenter/internal/coordinator"
	"AICallCenter/internal/httpserver"
	"AICallCenter/internal/ledger"
	"AICallCenter/internal/logger"
	"AICallCenter/internal/opclient"
	"AICallCenter/internal/orders"
	"AICallCenter/internal/platform"
	"AICallCenter/internal/session"
)

func init() {
	logger.InitLogger()
}

func main() {
	var (
		mode       = flag.String("mode", "demo", "运行模式: demo, server, operator")
		configPath = flag.String("config", "", "配置文件路径（默认查找configs/callcenter.yaml）")
		serverURL  = flag.String("server", "http://localhost:8000", "operator模式连接的服务端地址")
		agentName  = flag.String("agent", "operator-1", "operator模式的坐席名")
		operators  = flag.Int("operators", 1, "operator模式的坐席数量")
		simCalls   = flag.Int("sim-calls", 0, "server模式下模拟的进行中通话数")
	)
	flag.Parse()

	switch *mode {
	case "demo":
		runDemo()
	case "server":
		runServer(*configPath, *simCalls)
	case "operator":
		runOperators(*serverURL, *agentName, *operators)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runDemo 运行演示模式
func runDemo() {
	fmt.Println("AICallCenter - ShopEase客服转接与交接协调服务")
	fmt.Println("=============================================")
	fmt.Println()

	fmt.Println("项目特性:")
	fmt.Println("  - AI接听 + 人工坐席交接协调")
	fmt.Println("  - 转接台账，严格Pending->Accepted->Completed")
	fmt.Println("  - 坐席WebSocket实时推送")
	fmt.Println("  - 媒体平台入房Token签发(JWT)")
	fmt.Println("  - 订单查询(JSON文件热加载 / PostgreSQL)")
	fmt.Println()

	fmt.Println("快速开始:")
	fmt.Println("  # 启动服务端")
	fmt.Println("  go run main.go -mode=server")
	fmt.Println()
	fmt.Println("  # 连接坐席面板客户端")
	fmt.Println("  go run main.go -mode=operator -agent=alice")
	fmt.Println()
	fmt.Println("  # 带两通模拟通话启动")
	fmt.Println("  go run main.go -mode=server -sim-calls=2")
}

// runServer 运行呼叫中心服务端
func runServer(configPath string, simCalls int) {
	cm := config.NewConfigManager(
		config.WithConfigPath(configPath),
		config.WithWatchEnabled(true),
	)

	cfg, err := cm.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	store, err := buildOrderStore(cfg)
	if err != nil {
		log.Fatalf("初始化订单存储失败: %v", err)
	}

	registry := session.NewRegistry()
	events := bus.New()
	issuer := platform.NewIssuer(platform.Config{
		URL:       cfg.Platform.URL,
		APIKey:    cfg.Platform.APIKey,
		APISecret: cfg.Platform.APISecret,
		TokenTTL:  cfg.Platform.TokenTTL,
	})
	coord := coordinator.New(registry, ledger.New(), events, issuer)

	serverConfig := httpserver.DefaultServerConfig(cfg.Server.Addr)
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	server := httpserver.NewServer(serverConfig, coord, events)
	if err := server.Start(); err != nil {
		log.Fatalf("启动服务器失败: %v", err)
	}

	fmt.Printf("呼叫中心服务端已启动，监听地址: %s\n", cfg.Server.Addr)
	fmt.Printf("坐席WebSocket端点: ws://localhost%s/ws/agent\n", cfg.Server.Addr)

	// 模拟通话，用于本地演示转接流程
	ctx, cancel := context.WithCancel(context.Background())
	runnerDone := make(chan struct{})
	startSimulatedCalls(ctx, cfg, registry, coord, store, simCalls, runnerDone)

	// 优雅关闭
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	fmt.Println("\n正在关闭服务端...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务器关闭错误: %v", err)
	}

	select {
	case <-runnerDone:
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Printf("等待模拟通话退出超时")
	}

	switch s := store.(type) {
	case *orders.FileStore:
		s.Close()
	case *orders.PGStore:
		s.Close()
	}

	fmt.Println("服务端已关闭")
}

// buildOrderStore 按配置选择订单存储后端
func buildOrderStore(cfg *config.Config) (orders.Store, error) {
	switch cfg.Orders.Backend {
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := orders.NewPGStore(ctx, cfg.Orders.DSN)
		if err != nil {
			return nil, err
		}
		log.Printf("Order store: postgres")
		return pg, nil
	default:
		fs, err := orders.NewFileStore(cfg.Orders.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Orders.WatchFile {
			if err := fs.Watch(); err != nil {
				log.Printf("Watch orders file failed: %v", err)
			}
		}
		log.Printf("Order store: file (%s, %d orders)", cfg.Orders.Path, fs.Len())
		return fs, nil
	}
}

// startSimulatedCalls 启动count通模拟通话，每通一个Runner
func startSimulatedCalls(ctx context.Context, cfg *config.Config, registry *session.Registry,
	coord *coordinator.Controller, store orders.Store, count int, done chan struct{}) {

	if count <= 0 {
		close(done)
		return
	}

	instructions := ""
	if loaded, err := agent.LoadInstructions(cfg.Agent.InstructionsPath); err != nil {
		log.Printf("Load instructions failed: %v", err)
	} else {
		instructions = loaded
	}

	go func() {
		defer close(done)

		finished := make(chan int, count)
		for i := 0; i < count; i++ {
			roomName := fmt.Sprintf("sim-room-%d", i+1)
			runner := agent.NewRunner(agent.Config{
				PollInterval: cfg.Agent.PollInterval,
				Instructions: instructions,
			}, roomName, registry, coord, store, &simEngine{roomName: roomName})

			go func(n int) {
				if err := runner.Run(ctx); err != nil && err != context.Canceled {
					log.Printf("Simulated call %d ended with error: %v", n, err)
				}
				finished <- n
			}(i + 1)

			log.Printf("Simulated call started: %s", roomName)
		}

		for i := 0; i < count; i++ {
			<-finished
		}
	}()
}

// simEngine 模拟媒体引擎，本地演示时代替真实的房间接入
type simEngine struct {
	roomName      string
	onParticipant func(identity string)
}

func (e *simEngine) Start(ctx context.Context, instructions string) error {
	log.Printf("Sim engine started: room=%s instructions=%d bytes", e.roomName, len(instructions))
	return nil
}

func (e *simEngine) Close(ctx context.Context) error {
	log.Printf("Sim engine closed: room=%s", e.roomName)
	return nil
}

func (e *simEngine) Hangup(ctx context.Context) error {
	log.Printf("Sim engine hangup: room=%s", e.roomName)
	return nil
}

func (e *simEngine) OnParticipantJoined(fn func(identity string)) {
	e.onParticipant = fn
}

// runOperators 连接count个坐席面板客户端，打印事件推送
func runOperators(serverURL, agentName string, count int) {
	fmt.Printf("连接 %d 个坐席客户端到 %s\n", count, serverURL)

	clients := make([]*opclient.Client, 0, count)
	for i := 0; i < count; i++ {
		name := agentName
		if count > 1 {
			name = fmt.Sprintf("%s-%d", agentName, i+1)
		}

		client := opclient.New(opclient.DefaultClientConfig(serverURL, name))

		clientName := name
		client.SetEventHandler(func(ev bus.Event) {
			switch ev.Kind {
			case bus.KindIncomingTransfer:
				if ev.Transfer != nil {
					fmt.Printf("[%s] 新转接: id=%s room=%s reason=%q\n",
						clientName, ev.Transfer.ID, ev.Transfer.RoomName, ev.Transfer.Reason)
				}
			case bus.KindTransferAccepted:
				fmt.Printf("[%s] 转接已被接受: id=%s\n", clientName, ev.TransferID)
			default:
				fmt.Printf("[%s] 事件: %s\n", clientName, ev.Kind)
			}
		})

		client.SetStateChangeHandler(func(oldState, newState opclient.ClientState) {
			log.Printf("[%s] 状态: %s -> %s", clientName, oldState, newState)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.Connect(ctx)
		cancel()
		if err != nil {
			log.Printf("坐席 %s 连接失败: %v", name, err)
			continue
		}

		fmt.Printf("坐席 %s 已连接\n", name)
		clients = append(clients, client)
	}

	if len(clients) == 0 {
		log.Fatalf("没有坐席连接成功")
	}

	// 优雅关闭
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	fmt.Println("\n正在关闭坐席客户端...")
	for _, client := range clients {
		client.Close()
	}
	fmt.Println("已关闭")
}
