package uploader

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/3Eeeecho/go-uploadpipe/internal/config"
	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"github.com/3Eeeecho/go-uploadpipe/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager 上传会话管理器：每个任务 ID 至多持有一个活动会话，
// 路由控制消息（start/pause/resume/cancel/dismiss/retry），驱动传输客户端，
// 把每次状态迁移写入持久化存储并广播给所有观察者
type Manager struct {
	cfg *config.Config
	api TransferAPI
	hub *Hub

	// repo 是唯一的跨会话共享可变资源；每个会话只按自己的 ID 读写记录
	repoMu   sync.RWMutex
	repo     repositories.RecordRepository
	degraded bool

	mu        sync.Mutex
	sessions  map[string]*session // id → 活动会话
	cancelled map[string]struct{} // 已被取消删除、驱动循环尚未退出的任务 ID

	ready      atomic.Bool // 恢复流程完成前拒绝一切控制消息
	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager 创建上传会话管理器
// degraded 为 true 表示本地存储打开失败、仅内存态运行
func NewManager(cfg *config.Config, repo repositories.RecordRepository, api TransferAPI, degraded bool) *Manager {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		api:        api,
		hub:        NewHub(),
		repo:       repo,
		degraded:   degraded,
		sessions:   make(map[string]*session),
		cancelled:  make(map[string]struct{}),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// StorageDegraded 返回是否处于内存降级模式
func (m *Manager) StorageDegraded() bool {
	m.repoMu.RLock()
	defer m.repoMu.RUnlock()
	return m.degraded
}

func (m *Manager) getRepo() repositories.RecordRepository {
	m.repoMu.RLock()
	defer m.repoMu.RUnlock()
	return m.repo
}

// degrade 本地存储失效后切换到内存副本，后续持久化只在进程内有效
func (m *Manager) degrade() repositories.RecordRepository {
	m.repoMu.Lock()
	defer m.repoMu.Unlock()
	if m.degraded {
		return m.repo
	}
	logger.Warn("本地持久化存储不可用，降级为内存模式，进程退出后任务状态不会保留")
	mem := repositories.NewMemoryRecordRepository()
	// 尽力把旧存储里还能读到的记录搬进内存副本
	if records, err := m.repo.FindAll(context.Background()); err == nil {
		for i := range records {
			_ = mem.Save(context.Background(), &records[i])
		}
	}
	m.repo = mem
	m.degraded = true
	return m.repo
}

// persist 写入一条记录并广播最新快照；每次状态迁移都必须经过这里
// 写入在 m.mu 下与取消删除串行：取消认领过的 ID 不再落库，
// 否则滞留在途的进度写入会把已删除的记录重新插回存储
func (m *Manager) persist(ctx context.Context, rec *models.UploadRecord) {
	m.mu.Lock()
	if _, gone := m.cancelled[rec.ID]; gone {
		m.mu.Unlock()
		return
	}
	if err := m.getRepo().Save(ctx, rec); err != nil {
		if errors.Is(err, xerr.ErrStorageUnavailable) {
			_ = m.degrade().Save(ctx, rec)
		} else {
			logger.Error("persist: failed to save record", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	m.mu.Unlock()
	m.broadcast()
}

func (m *Manager) broadcast() {
	records, err := m.getRepo().FindAll(context.Background())
	if err != nil {
		logger.Error("broadcast: failed to load records", zap.Error(err))
		return
	}
	m.hub.Publish(records)
}

// Records 返回全部任务记录（创建时间升序）
func (m *Manager) Records(ctx context.Context) ([]models.UploadRecord, error) {
	return m.getRepo().FindAll(ctx)
}

// Subscribe 注册观察者，立即收到当前全量快照，之后每次状态迁移都会收到新快照
func (m *Manager) Subscribe() (<-chan []models.UploadRecord, func()) {
	records, err := m.getRepo().FindAll(context.Background())
	if err != nil {
		records = nil
	}
	return m.hub.Subscribe(records)
}

func (m *Manager) requireReady() error {
	if !m.ready.Load() {
		return xerr.NewCodeError(xerr.NotReadyCode, xerr.ErrNotReady)
	}
	return nil
}

// launch 为会话启动一个驱动循环。running 标记在 m.mu 下检查并置位，
// 保证同一任务 ID 同时至多存在一个循环；输掉竞争的调用方收到冲突错误，
// 绝不会重新装配一个正在被活动循环使用的 ctx。
// prep 在竞争胜出后、循环启动前于 m.mu 下执行，用于重置会话内状态
func (m *Manager) launch(sess *session, prep func(), run func(*session)) error {
	m.mu.Lock()
	if sess.running {
		m.mu.Unlock()
		return xerr.NewCodeError(xerr.TaskConflictCode, xerr.ErrTaskConflict)
	}
	if prep != nil {
		prep()
	}
	sess.running = true
	sess.arm(m.rootCtx)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer func() {
			m.mu.Lock()
			sess.running = false
			delete(m.cancelled, sess.id)
			m.mu.Unlock()
		}()
		run(sess)
	}()
	return nil
}

// StartFile 创建一个文件上传任务并立即开始传输
// 字节源只驻留内存，进程重启后无法恢复
func (m *Manager) StartFile(ctx context.Context, filename, contentType string, size int64, src io.ReaderAt) (string, error) {
	if err := m.requireReady(); err != nil {
		return "", err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" || strings.ContainsAny(filename, "/\\") {
		return "", xerr.NewCodeError(xerr.FileNameInvalidCode, xerr.ErrFileNameInvalid)
	}
	if size < 0 || src == nil {
		return "", xerr.NewCodeError(xerr.InvalidParamsCode, xerr.ErrInvalidParams)
	}

	rec := &models.UploadRecord{
		ID:         uuid.NewString(),
		Filename:   filename,
		TotalBytes: size,
		Status:     models.StatusPending,
	}
	m.persist(ctx, rec)

	sess := &session{id: rec.ID, src: src, size: size, contentType: contentType}
	m.mu.Lock()
	m.sessions[rec.ID] = sess
	m.mu.Unlock()
	if err := m.launch(sess, nil, m.runFileUpload); err != nil {
		return "", err
	}

	logger.Info("StartFile: 已创建文件上传任务",
		zap.String("id", rec.ID), zap.String("filename", filename), zap.Int64("size", size))
	return rec.ID, nil
}

// StartURL 创建一个服务端 URL 抓取任务
func (m *Manager) StartURL(ctx context.Context, sourceURL string) (string, error) {
	if err := m.requireReady(); err != nil {
		return "", err
	}
	sourceURL = strings.TrimSpace(sourceURL)
	if !strings.HasPrefix(sourceURL, "http://") && !strings.HasPrefix(sourceURL, "https://") {
		return "", xerr.NewCodeError(xerr.SourceURLInvalidCode, xerr.ErrSourceURLInvalid)
	}

	rec := &models.UploadRecord{
		ID:            uuid.NewString(),
		Filename:      filenameFromURL(sourceURL),
		Status:        models.StatusPending,
		IsURLDownload: true,
		SourceURL:     sourceURL,
	}
	m.persist(ctx, rec)

	sess := &session{id: rec.ID}
	m.mu.Lock()
	m.sessions[rec.ID] = sess
	m.mu.Unlock()
	if err := m.launch(sess, nil, m.runURLDownload); err != nil {
		return "", err
	}

	logger.Info("StartURL: 已创建 URL 下载任务", zap.String("id", rec.ID), zap.String("url", sourceURL))
	return rec.ID, nil
}

// Pause 暂停一个进行中的任务，保留已确认的进度
func (m *Manager) Pause(ctx context.Context, id string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	rec, err := m.getRepo().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusUploading && rec.Status != models.StatusDownloading {
		return xerr.NewCodeError(xerr.TaskStateInvalidCode, xerr.ErrTaskStateInvalid)
	}

	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess == nil {
		return xerr.NewCodeError(xerr.TaskStateInvalidCode, xerr.ErrTaskStateInvalid)
	}
	sess.stop(stopPause)
	return nil
}

// Resume 恢复一个已暂停任务：分片上传从第一个未确认分片继续，URL 下载重新发起抓取
func (m *Manager) Resume(ctx context.Context, id string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	rec, err := m.getRepo().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusPaused {
		return xerr.NewCodeError(xerr.TaskStateInvalidCode, xerr.ErrTaskStateInvalid)
	}

	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess == nil {
		// 暂停记录没有活动会话，说明字节源已随进程重启丢失
		return xerr.NewCodeError(xerr.TaskUnrecoverableCode, xerr.ErrTaskUnrecoverable)
	}

	run := m.runFileUpload
	if rec.IsURLDownload {
		run = m.runURLDownload
	}
	return m.launch(sess, nil, run)
}

// Cancel 取消一个未完成的任务：中止网络操作，尽力清理服务端半成品，删除记录
// 取消落定后该任务不会再有任何网络发送
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	rec, err := m.getRepo().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return xerr.NewCodeError(xerr.TaskStateInvalidCode, xerr.ErrTaskStateInvalid)
	}

	// 先在 m.mu 下认领该 ID：此后驱动循环的任何 persist 都不再落库，
	// 在途的进度写入无法把删除后的记录插回存储
	m.mu.Lock()
	sess := m.sessions[id]
	delete(m.sessions, id)
	m.cancelled[id] = struct{}{}
	loopRunning := sess != nil && sess.running
	m.mu.Unlock()

	var remoteTask string
	if sess != nil {
		remoteTask = sess.remoteTask()
		sess.stop(stopCancel)
	}

	// 服务端清理是尽力而为的，对调用方而言取消永远成功
	if rec.UploadID != "" {
		_ = m.api.Abort(context.Background(), rec.UploadID)
	}
	if remoteTask != "" {
		_ = m.api.CancelRemoteFetch(context.Background(), remoteTask)
	}

	if err := m.getRepo().Delete(ctx, id); err != nil {
		logger.Error("Cancel: failed to delete record", zap.String("id", id), zap.Error(err))
	}
	if !loopRunning {
		// 没有活动循环时不会再有写入，立即释放认领；
		// 否则由循环退出时清理
		m.mu.Lock()
		delete(m.cancelled, id)
		m.mu.Unlock()
	}
	m.broadcast()
	logger.Info("Cancel: 任务已取消", zap.String("id", id))
	return nil
}

// Dismiss 移除一条终态记录
func (m *Manager) Dismiss(ctx context.Context, id string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	rec, err := m.getRepo().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !rec.Status.IsTerminal() {
		return xerr.NewCodeError(xerr.TaskStateInvalidCode, xerr.ErrTaskStateInvalid)
	}

	m.mu.Lock()
	delete(m.sessions, id) // error 态会话可能还留着字节源，一并释放
	m.mu.Unlock()

	if err := m.getRepo().Delete(ctx, id); err != nil {
		return err
	}
	m.broadcast()
	return nil
}

// Retry 重试一个 error 态任务
// 分片上传从已确认分片之后继续（字节源必须仍在内存中），URL 下载重新发起抓取
func (m *Manager) Retry(ctx context.Context, id string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	rec, err := m.getRepo().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusError {
		return xerr.NewCodeError(xerr.TaskStateInvalidCode, xerr.ErrTaskStateInvalid)
	}
	if rec.IsURLDownload {
		return m.restartURLDownload(rec)
	}

	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	if sess == nil || sess.src == nil {
		return xerr.NewCodeError(xerr.TaskUnrecoverableCode, xerr.ErrTaskUnrecoverable)
	}
	return m.launch(sess, nil, m.runFileUpload)
}

// RetryURLDownload 对 interrupted_url 记录重新发起服务端抓取
// 这是重启后唯一可恢复的打断形态：只需要 URL 而不需要字节
func (m *Manager) RetryURLDownload(ctx context.Context, id string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	rec, err := m.getRepo().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusInterruptedURL {
		return xerr.NewCodeError(xerr.TaskStateInvalidCode, xerr.ErrTaskStateInvalid)
	}
	if !rec.IsURLDownload || rec.SourceURL == "" {
		return xerr.NewCodeError(xerr.TaskUnrecoverableCode, xerr.ErrTaskUnrecoverable)
	}
	return m.restartURLDownload(rec)
}

// restartURLDownload 为一个已有 URL 任务装配（或复用）会话并重新发起抓取
func (m *Manager) restartURLDownload(rec *models.UploadRecord) error {
	m.mu.Lock()
	sess := m.sessions[rec.ID]
	if sess == nil {
		sess = &session{id: rec.ID}
		m.sessions[rec.ID] = sess
	}
	m.mu.Unlock()

	// 旧抓取任务已随失败/打断作废，竞争胜出后再清掉，重新发起
	return m.launch(sess, func() { sess.setRemoteTask("") }, m.runURLDownload)
}

// removeSession 终态迁移后释放会话句柄
func (m *Manager) removeSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// loadRecord 会话驱动循环加载自己的记录；记录已被删除（取消/清除）时返回 nil
func (m *Manager) loadRecord(id string) *models.UploadRecord {
	rec, err := m.getRepo().FindByID(context.Background(), id)
	if err != nil {
		if !errors.Is(err, xerr.ErrTaskNotFound) {
			logger.Error("loadRecord: failed to load record", zap.String("id", id), zap.Error(err))
		}
		return nil
	}
	return rec
}

// Shutdown 停止所有活动会话并等待驱动循环退出
// 进行中的记录保持原状态落在存储里，由下次激活的恢复流程降级
func (m *Manager) Shutdown(ctx context.Context) {
	m.rootCancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Shutdown: 等待上传会话退出超时")
	}
	m.hub.Close()
}

// filenameFromURL 从 URL 提取展示用文件名，取不到时用占位名
func filenameFromURL(sourceURL string) string {
	trimmed := strings.SplitN(sourceURL, "?", 2)[0]
	trimmed = strings.TrimRight(trimmed, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i+1 < len(trimmed) {
		name := trimmed[i+1:]
		if name != "" && !strings.Contains(name, ":") {
			return name
		}
	}
	return "remote-download"
}
