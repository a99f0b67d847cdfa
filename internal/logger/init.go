package logger

import "log"

// InitLogger 初始化日志器，全进程统一带文件名行号
func InitLogger() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
