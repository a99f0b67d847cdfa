package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// OrdersBackend 订单存储后端类型枚举
type OrdersBackend string

const (
	BackendFile     OrdersBackend = "file"
	BackendPostgres OrdersBackend = "postgres"
)

// String 实现字符串接口
func (b OrdersBackend) String() string {
	return string(b)
}

// IsValid 检查后端类型是否有效
func (b OrdersBackend) IsValid() bool {
	switch b {
	case BackendFile, BackendPostgres:
		return true
	default:
		return false
	}
}

// ServerConfig HTTP/WebSocket服务器配置
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// PlatformConfig 媒体平台接入配置
type PlatformConfig struct {
	URL       string        `yaml:"url" mapstructure:"url"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	APISecret string        `yaml:"api_secret" mapstructure:"api_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// AgentConfig 自动坐席配置
type AgentConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	InstructionsPath string        `yaml:"instructions_path" mapstructure:"instructions_path"`
}

// OrdersConfig 订单存储配置
type OrdersConfig struct {
	Backend   OrdersBackend `yaml:"backend" mapstructure:"backend"`
	Path      string        `yaml:"path" mapstructure:"path"`
	DSN       string        `yaml:"dsn" mapstructure:"dsn"`
	WatchFile bool          `yaml:"watch_file" mapstructure:"watch_file"`
}

// MetaConfig 元数据配置
type MetaConfig struct {
	Project       string `yaml:"project" mapstructure:"project"`
	ConfigVersion string `yaml:"config_version" mapstructure:"config_version"`
}

// Config 呼叫中心完整配置
type Config struct {
	Meta     MetaConfig     `yaml:"meta" mapstructure:"meta"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Platform PlatformConfig `yaml:"platform" mapstructure:"platform"`
	Agent    AgentConfig    `yaml:"agent" mapstructure:"agent"`
	Orders   OrdersConfig   `yaml:"orders" mapstructure:"orders"`
}

// LoadConfig 从文件加载配置（使用viper）
func LoadConfig(configPath string) (*Config, error) {
	config, _, err := loadConfigFromFile(configPath)
	return config, err
}

// loadConfigFromFile 加载配置并返回viper实例供热更新使用
func loadConfigFromFile(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// 配置文件路径和类型
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("callcenter")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath(".")
	}

	// 设置环境变量前缀
	v.SetEnvPrefix("CALLCENTER")
	v.AutomaticEnv()

	// 默认值在读取配置文件之前设置，不会覆盖文件中的值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, nil, fmt.Errorf("配置文件不存在: %s", configPath)
		}
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 验证配置
	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, v, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// Meta默认值
	v.SetDefault("meta.project", "AI Call Center")
	v.SetDefault("meta.config_version", "1.0.0")

	// 服务器默认值
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// 平台默认值
	v.SetDefault("platform.url", "ws://localhost:7880")
	v.SetDefault("platform.token_ttl", "6h")

	// 坐席默认值
	v.SetDefault("agent.poll_interval", "1s")
	v.SetDefault("agent.instructions_path", "instructions/agent_instructions.yml")

	// 订单存储默认值
	v.SetDefault("orders.backend", "file")
	v.SetDefault("orders.path", "data/orders.json")
	v.SetDefault("orders.watch_file", true)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("服务器监听地址不能为空")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("优雅关闭超时时间必须大于0")
	}

	if c.Platform.URL == "" {
		return fmt.Errorf("媒体平台URL不能为空")
	}

	if c.Platform.TokenTTL <= 0 {
		return fmt.Errorf("Token有效期必须大于0")
	}

	if c.Agent.PollInterval <= 0 {
		return fmt.Errorf("轮询间隔必须大于0")
	}

	if !c.Orders.Backend.IsValid() {
		return fmt.Errorf("无效的订单存储后端: %s", c.Orders.Backend)
	}

	switch c.Orders.Backend {
	case BackendFile:
		if c.Orders.Path == "" {
			return fmt.Errorf("文件后端的订单文件路径不能为空")
		}
	case BackendPostgres:
		if c.Orders.DSN == "" {
			return fmt.Errorf("postgres后端的DSN不能为空")
		}
	}

	return nil
}

// SaveConfig 保存配置到文件（使用viper）
func (c *Config) SaveConfig(configPath string) error {
	if configPath == "" {
		configPath = "configs/callcenter.yaml"
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.Set("meta", c.Meta)
	v.Set("server", c.Server)
	v.Set("platform", c.Platform)
	v.Set("agent", c.Agent)
	v.Set("orders", c.Orders)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}
