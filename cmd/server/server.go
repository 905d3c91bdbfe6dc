package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3Eeeecho/go-uploadpipe/internal/config"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/backend"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/repositories"
	"github.com/3Eeeecho/go-uploadpipe/internal/router"
	"github.com/3Eeeecho/go-uploadpipe/internal/services/uploader"
	"github.com/3Eeeecho/go-uploadpipe/internal/setup"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	manager    *uploader.Manager
}

// NewServer 负责构建所有依赖
// 恢复流程在路由注册之前执行完：控制 API 可见之前，
// 上一个进程遗留的"进行中"记录已经全部降级
func NewServer(cfg *config.Config) (*Server, error) {
	// 初始化本地持久化存储；失败时降级为内存模式而不是拒绝启动
	repo, degraded := buildRepository(cfg)

	// 初始化后端传输客户端
	backendClient := backend.NewClient(&cfg.Backend)

	// 初始化上传会话管理器
	manager := uploader.NewManager(cfg, repo, backendClient, degraded)

	// 恢复上一进程遗留的任务状态，必须先于任何控制消息
	if err := manager.Reconcile(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to reconcile persisted uploads: %w", err)
	}

	// 启动过期记录清理
	manager.StartJanitor()

	// 初始化 Gin 引擎和注册路由
	engine := router.InitRouter(manager)

	addr := ":" + cfg.Server.Port
	logger.Info(fmt.Sprintf("Server is running on %s", cfg.Server.Port))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	return &Server{
		router:     engine,
		httpServer: httpServer,
		manager:    manager,
	}, nil
}

// buildRepository 打开 SQLite 存储，失败时回退到内存实现
func buildRepository(cfg *config.Config) (repositories.RecordRepository, bool) {
	db, err := setup.InitSQLite(&cfg.SQLite)
	if err != nil {
		logger.Warn("本地存储打开失败，降级为内存模式运行", zap.Error(err))
		return repositories.NewMemoryRecordRepository(), true
	}
	return repositories.NewRecordRepository(db), false
}

// Run 启动服务器并处理优雅关机
func (s *Server) Run(stopChan chan os.Signal) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 等待停止信号
	<-stopChan
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// 停止所有上传会话；进行中的记录留在存储里，下次激活时降级
	s.manager.Shutdown(shutdownCtx)
	logger.Info("Server exited gracefully")
}
