package uploader

import (
	"context"
	"io"
	"sync"
)

// stopReason 会话被打断的原因，决定打断后的状态迁移
type stopReason int

const (
	stopNone   stopReason = iota // 进程退出等，状态留在存储里由下次激活的恢复流程处理
	stopPause                    // 用户暂停，保留进度
	stopCancel                   // 用户取消，记录已被删除
)

// session 一个任务在内存中的活动会话：网络活动 + 取消句柄
// 每个任务 ID 同一时刻至多存在一个 session。文件字节源只驻留在这里，
// 永远不进持久化存储，因此进程一死字节即丢（恢复流程据此降级）
type session struct {
	id string

	// running 表示当前是否有驱动循环在跑，由 Manager.mu 保护；
	// 只有竞争到启动权的调用方才能重新装配 ctx，避免两个循环并存
	running bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	reason stopReason

	// 文件上传任务的字节源，URL 任务为 nil
	src         io.ReaderAt
	size        int64
	contentType string

	// URL 任务对应的服务端抓取任务 ID
	remoteTaskID string
}

// arm 为新一轮传输装配取消上下文，重置打断原因
func (s *session) arm(parent context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(parent)
	s.reason = stopNone
	return s.ctx
}

// stop 记录打断原因并取消在途网络操作
// 在途请求会在一次往返内观察到取消
func (s *session) stop(r stopReason) {
	s.mu.Lock()
	s.reason = r
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *session) stopReason() stopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *session) setRemoteTask(taskID string) {
	s.mu.Lock()
	s.remoteTaskID = taskID
	s.mu.Unlock()
}

func (s *session) remoteTask() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTaskID
}
