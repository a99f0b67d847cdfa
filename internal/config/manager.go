package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager 统一配置管理器
type ConfigManager struct {
	mu           sync.RWMutex
	config       *Config
	viper        *viper.Viper
	configPath   string
	watchEnabled bool
	onChange     []func(*Config)
}

// ConfigManagerOption 配置管理器选项
type ConfigManagerOption func(*ConfigManager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.watchEnabled = enabled
	}
}

// NewConfigManager 创建配置管理器
func NewConfigManager(opts ...ConfigManagerOption) *ConfigManager {
	cm := &ConfigManager{}

	for _, opt := range opts {
		opt(cm)
	}

	return cm
}

// Load 加载配置
func (cm *ConfigManager) Load() (*Config, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	config, viperInstance, err := loadConfigFromFile(cm.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	cm.config = config
	cm.viper = viperInstance

	// 启用监控
	if cm.watchEnabled {
		cm.watchConfig()
	}

	return config, nil
}

// Get 获取配置（如果未加载则自动加载）
func (cm *ConfigManager) Get() (*Config, error) {
	cm.mu.RLock()
	if cm.config != nil {
		defer cm.mu.RUnlock()
		return cm.config, nil
	}
	cm.mu.RUnlock()

	return cm.Load()
}

// Reload 重新加载配置，成功后通知订阅者。
// 重载失败时保留旧配置。
func (cm *ConfigManager) Reload() error {
	cm.mu.Lock()

	config, viperInstance, err := loadConfigFromFile(cm.configPath)
	if err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("重新加载配置失败: %w", err)
	}

	cm.config = config
	cm.viper = viperInstance
	subscribers := append([]func(*Config){}, cm.onChange...)
	cm.mu.Unlock()

	for _, fn := range subscribers {
		fn(config)
	}

	return nil
}

// OnChange 注册配置变化回调
func (cm *ConfigManager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onChange = append(cm.onChange, fn)
}

// watchConfig 监控配置文件变化
func (cm *ConfigManager) watchConfig() {
	if cm.viper == nil {
		return
	}

	cm.viper.WatchConfig()
	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		cm.Reload()
	})
}

// ValidateConfig 验证当前配置
func (cm *ConfigManager) ValidateConfig() error {
	config, err := cm.Get()
	if err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	return nil
}

// GetConfigSummary 获取配置摘要信息
func (cm *ConfigManager) GetConfigSummary() (map[string]interface{}, error) {
	config, err := cm.Get()
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"project":        config.Meta.Project,
		"config_version": config.Meta.ConfigVersion,
		"server_addr":    config.Server.Addr,
		"platform_url":   config.Platform.URL,
		"orders_backend": config.Orders.Backend.String(),
	}, nil
}
