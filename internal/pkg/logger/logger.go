package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// Options 日志初始化选项
type Options struct {
	OutputPath string // 日志文件路径，例如 "logs/app.log"
	ErrorPath  string // 错误日志文件路径，例如 "logs/error.log"
	Level      string // 日志级别 (debug, info, warn, error, dpanic, panic, fatal)
}

// InitLogger 初始化 Zap 日志库
// 日志文件的父目录按配置路径自动创建
func InitLogger(opts Options) {
	once.Do(func() {
		ensureLogDir(opts.OutputPath)
		ensureLogDir(opts.ErrorPath)

		var l zapcore.Level
		if err := l.UnmarshalText([]byte(opts.Level)); err != nil {
			l = zap.InfoLevel // 默认 INFO 级别
			fmt.Fprintf(os.Stderr, "Failed to parse log level '%s', defaulting to info: %v\n", opts.Level, err)
		}

		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(l)
		cfg.OutputPaths = []string{opts.OutputPath, "stdout"}
		cfg.ErrorOutputPaths = []string{opts.ErrorPath, "stderr"}
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

		var err error
		log, err = cfg.Build()
		if err != nil {
			panic(fmt.Sprintf("Failed to build zap logger: %v", err))
		}
		zap.ReplaceGlobals(log)
	})
}

// ensureLogDir 为日志文件路径创建父目录，stdout/stderr 等特殊目标跳过
func ensureLogDir(path string) {
	if path == "" || path == "stdout" || path == "stderr" {
		return
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create log directory %s: %v\n", dir, err)
		}
	}
}

// GetLogger 返回全局logger
func GetLogger() *zap.Logger {
	if log == nil {
		// 如果在调用 InitLogger 之前调用 GetLogger，则初始化一个默认 logger
		InitLogger(Options{OutputPath: "stdout", ErrorPath: "stderr", Level: "info"})
	}
	return log
}

// Sugar 返回 Zap 的 SugaredLogger，适合对性能不敏感的上下文
func Sugar() *zap.SugaredLogger {
	return GetLogger().Sugar()
}

// Sync 刷新缓冲区，程序退出前调用
func Sync() {
	if log != nil {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync zap logger: %v\n", err)
		}
	}
}

// 为方便使用，封装常用的日志方法
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}
