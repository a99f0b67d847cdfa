package agent

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadInstructions 从YAML文件读取坐席话术指令。
// 文件须包含非空的instructions键。
func LoadInstructions(path string) (string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read instructions file %s failed: %w", path, err)
	}

	instructions := strings.TrimSpace(v.GetString("instructions"))
	if instructions == "" {
		return "", fmt.Errorf("instructions missing or empty in %s", path)
	}

	return instructions, nil
}
