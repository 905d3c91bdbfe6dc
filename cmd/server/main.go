// @title go-uploadpipe 控制 API
// @version 1.0
// @description 可恢复分片上传管线的本地控制接口
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/3Eeeecho/go-uploadpipe/internal/config"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// 初始化日志系统（日志目录按配置路径自动创建）
	logger.InitLogger(logger.Options{
		OutputPath: cfg.Log.OutputPath,
		ErrorPath:  cfg.Log.ErrorPath,
		Level:      cfg.Log.Level,
	})
	defer logger.Sync() // 确保在应用退出时刷新所有缓冲的日志条目

	srv, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to build server", zap.Error(err))
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	srv.Run(stopChan)
}
